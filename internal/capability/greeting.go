package capability

import (
	"context"
	"fmt"

	"github.com/Bemazed/grid-gateway/internal/session"
)

// Greeting sends Message and ends the session.
type Greeting struct {
	Message string
}

// Handle writes the greeting.
func (g *Greeting) Handle(_ context.Context, sess *session.Session) error {
	if _, err := sess.WriteString(g.Message); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	sess.Logger.Debug("greeting sent")
	return nil
}
