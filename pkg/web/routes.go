package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/attendance", http.StatusFound)
	})
	s.router.Get("/video_feed", s.videoFeed)
	s.router.Get("/attendance", s.attendancePage)
	s.router.Get("/attendance/export", s.exportAttendance)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/attendance", s.listAttendance)
		r.Get("/identities", s.listIdentities)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(s.opts.AdminPasswordHash))
			r.Post("/model/reload", s.reloadModel)
			r.Post("/model/train", s.trainModel)
			r.Post("/identities/{id}/enroll", s.enrollIdentity)
			r.Post("/attendance/reset", s.resetAttendance)
		})
	})
}
