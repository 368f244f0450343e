package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// registerRoutes wires the three spec §6 engine routes, each behind
// its own rate limiter: execute 1/min, task 30/min, health 1000/hr.
// All three limiters are keyed by client IP; the routes carry no user
// identity, so the execute limit is per IP, not per user.
func (s *Server) registerRoutes(router *mux.Router) {
	executeLimit, executeBurst := perMinute(1)
	taskLimit, taskBurst := perMinute(30)
	healthLimit, healthBurst := perHour(1000)

	executeLimiter := newLimiterStore(executeLimit, executeBurst)
	taskLimiter := newLimiterStore(taskLimit, taskBurst)
	healthLimiter := newLimiterStore(healthLimit, healthBurst)

	router.Handle("/engine/execute/",
		rateLimitMiddleware(executeLimiter, clientIP)(http.HandlerFunc(s.handleExecute)),
	).Methods("POST")

	router.Handle("/engine/task/{taskID}/",
		rateLimitMiddleware(taskLimiter, clientIP)(http.HandlerFunc(s.handleTask)),
	).Methods("GET")

	router.Handle("/engine/health/",
		rateLimitMiddleware(healthLimiter, clientIP)(http.HandlerFunc(s.handleHealth)),
	).Methods("GET")
}
