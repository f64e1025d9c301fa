package lockbox

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Callback is invoked once when a stage naming it is entered. Returning an
// error aborts the run.
type Callback func(lb *Lockbox) error

// RegisterCallback makes cb available to stages under name, replacing any
// previous callback with that name.
func (l *Lockbox) RegisterCallback(name string, cb Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()

	logrus.WithField("callback", name).Debug("callback registered")
	l.callbacks[name] = cb
}

// UnregisterCallback removes a callback.
func (l *Lockbox) UnregisterCallback(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.callbacks, name)
}

// Callbacks returns the registered callback names, sorted.
func (l *Lockbox) Callbacks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.callbacks))
	for name := range l.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Lockbox) callback(name string) (Callback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cb, ok := l.callbacks[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCallback, "%q", name)
	}
	return cb, nil
}
