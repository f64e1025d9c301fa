package main

import (
	"reflect"
	"testing"
)

func TestParseAttrs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "typed values",
			args: []string{"name=fine", "gain_factor=10", "duration=0.5", "input=\"port1\""},
			want: map[string]any{
				"name":        "fine",
				"gain_factor": float64(10),
				"duration":    0.5,
				"input":       "port1",
			},
		},
		{
			name: "value with equals sign",
			args: []string{"name=a=b"},
			want: map[string]any{"name": "a=b"},
		},
		{name: "missing value", args: []string{"name"}, wantErr: true},
		{name: "missing key", args: []string{"=1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAttrs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAttrs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseAttrs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnquote(t *testing.T) {
	if got := unquote(`"lock started"`); got != "lock started" {
		t.Errorf("unquote() = %q", got)
	}
	if got := unquote("plain"); got != "plain" {
		t.Errorf("unquote() = %q", got)
	}
}
