package host

import (
	"github.com/brandon/mailview/internal/panels"
)

// NewSurface announces a new panel to the host. It implements
// panels.SurfaceFactory.
func (s *Server) NewSurface(p *panels.Panel) (panels.Surface, error) {
	s.Notify("panel/create", map[string]interface{}{
		"panel_id": p.ID(),
		"kind":     p.Kind(),
		"mode":     p.Mode(),
		"title":    p.Title(),
	})
	return &surface{id: p.ID(), server: s}, nil
}

// surface forwards panel updates as notifications
type surface struct {
	id     string
	server *Server
}

func (u *surface) Render(c panels.Content) error {
	u.server.Notify("panel/render", map[string]interface{}{
		"panel_id": u.id,
		"content":  c,
	})
	return nil
}

func (u *surface) Reveal() {
	u.server.Notify("panel/reveal", map[string]interface{}{"panel_id": u.id})
}

func (u *surface) Dispose() {
	u.server.Notify("panel/dispose", map[string]interface{}{"panel_id": u.id})
}

// SetBadge shows the unread count. It implements refresh.BadgeSink.
func (s *Server) SetBadge(n int) {
	s.Notify("badge/update", map[string]interface{}{"count": n, "visible": true})
}

// ClearBadge hides the unread badge
func (s *Server) ClearBadge() {
	s.Notify("badge/update", map[string]interface{}{"count": 0, "visible": false})
}
