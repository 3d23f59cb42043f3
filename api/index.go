package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"newsdesk/app"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. Scheduled publishing runs through /internal/maintenance/publish here.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		runMigrations := app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false)
		apiRuntime, initErr = app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: &runMigrations,
		})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
