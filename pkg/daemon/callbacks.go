package daemon

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

const (
	CallbackLog  = "log"
	CallbackSave = "save"
)

// registerBuiltinCallbacks makes the daemon's callbacks available to
// stages through function_call.
func registerBuiltinCallbacks(s *server) {
	s.lb.RegisterCallback(CallbackLog, func(lb *lockbox.Lockbox) error {
		st := lb.State()
		logrus.WithFields(logrus.Fields{
			"run":     st.RunID,
			"stage":   st.CurrentStage,
			"engaged": lb.Engaged(),
		}).Info("stage reached")
		return nil
	})
	s.lb.RegisterCallback(CallbackSave, func(*lockbox.Lockbox) error {
		s.persist()
		return nil
	})
}
