package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/AdamBeresnev/matchday/internal/bracket"
	"github.com/AdamBeresnev/matchday/internal/config"
	"github.com/AdamBeresnev/matchday/internal/httputil"
	"github.com/AdamBeresnev/matchday/internal/middleware"
	"github.com/AdamBeresnev/matchday/internal/notify"
	"github.com/AdamBeresnev/matchday/internal/service"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

type application struct {
	cfg         *config.Config
	hub         *notify.Hub
	teams       *store.TeamStore
	servers     *store.ServerStore
	scheduler   *service.Scheduler
	progression *service.Progression
	vetoes      *service.VetoService
	tournaments *service.TournamentService
	events      *service.EventService
}

func (app *application) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws/tournaments/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := tournamentID(w, r)
		if !ok {
			return
		}
		app.hub.ServeWS(w, r, id.String())
	})

	// game servers authenticate with the token sent in the load sequence
	r.With(middleware.RequireBearer(app.cfg.ConfigToken)).Get("/api/matches/{slug}/config", func(w http.ResponseWriter, r *http.Request) {
		cfg, err := app.tournaments.GetMatchConfig(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			httputil.Error(w, "Failed to get match config", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cfg)
	})

	r.With(middleware.RequireSharedSecret(app.cfg.WebhookHeader, app.cfg.WebhookSecret)).Post("/api/events", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			httputil.BadRequest(w, "Failed to read event", err)
			return
		}
		ev, err := service.DecodeEvent(body)
		if err != nil {
			httputil.Error(w, "Invalid event", err)
			return
		}
		if err := app.events.Handle(r.Context(), ev); err != nil {
			httputil.Error(w, "Failed to handle event", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(app.cfg.APIKey))

		r.Route("/api/teams", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				teams, err := app.teams.ListTeams(r.Context())
				if err != nil {
					httputil.InternalServerError(w, "Failed to list teams", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, teams)
			})
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var team bracket.Team
				if !decode(w, r, &team) {
					return
				}
				if team.ID == "" || team.Name == "" {
					httputil.BadRequest(w, "Team id and name are required", nil)
					return
				}
				if err := app.teams.CreateTeam(r.Context(), &team); err != nil {
					httputil.InternalServerError(w, "Failed to create team", err)
					return
				}
				httputil.WriteJSON(w, http.StatusCreated, team)
			})
		})

		r.Route("/api/servers", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				servers, err := app.servers.ListServers(r.Context())
				if err != nil {
					httputil.InternalServerError(w, "Failed to list servers", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, servers)
			})
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var in struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					Host     string `json:"host"`
					Port     int    `json:"port"`
					Password string `json:"password"`
					Enabled  *bool  `json:"enabled"`
				}
				if !decode(w, r, &in) {
					return
				}
				if in.ID == "" || in.Host == "" || in.Port == 0 {
					httputil.BadRequest(w, "Server id, host and port are required", nil)
					return
				}
				server := bracket.Server{
					ID:       in.ID,
					Name:     in.Name,
					Host:     in.Host,
					Port:     in.Port,
					Password: in.Password,
					Enabled:  in.Enabled == nil || *in.Enabled,
				}
				if server.Name == "" {
					server.Name = server.ID
				}
				if err := app.servers.CreateServer(r.Context(), &server); err != nil {
					httputil.InternalServerError(w, "Failed to create server", err)
					return
				}
				httputil.WriteJSON(w, http.StatusCreated, server)
			})
			r.Get("/available", func(w http.ResponseWriter, r *http.Request) {
				servers, err := app.scheduler.ListAvailableServers(r.Context())
				if err != nil {
					httputil.Error(w, "Failed to probe servers", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, servers)
			})
			r.Put("/{id}/enabled", func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Enabled bool `json:"enabled"`
				}
				if !decode(w, r, &body) {
					return
				}
				if err := app.servers.SetEnabled(r.Context(), chi.URLParam(r, "id"), body.Enabled); err != nil {
					httputil.Error(w, "Failed to update server", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})

		r.Route("/api/tournaments", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				tournaments, err := app.tournaments.ListTournaments(r.Context())
				if err != nil {
					httputil.InternalServerError(w, "Failed to list tournaments", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, tournaments)
			})
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var in service.TournamentInput
				if !decode(w, r, &in) {
					return
				}
				t, err := app.tournaments.CreateTournament(r.Context(), in)
				if err != nil {
					httputil.Error(w, "Failed to create tournament", err)
					return
				}
				httputil.WriteJSON(w, http.StatusCreated, t)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					view, err := app.tournaments.GetBracket(r.Context(), id)
					if err != nil {
						httputil.Error(w, "Failed to get tournament", err)
						return
					}
					httputil.WriteJSON(w, http.StatusOK, view)
				})
				r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					if err := app.tournaments.DeleteTournament(r.Context(), id); err != nil {
						httputil.Error(w, "Failed to delete tournament", err)
						return
					}
					w.WriteHeader(http.StatusNoContent)
				})
				r.Post("/bracket", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					matches, err := app.tournaments.CreateBracket(r.Context(), id)
					if err != nil {
						httputil.Error(w, "Failed to create bracket", err)
						return
					}
					httputil.WriteJSON(w, http.StatusCreated, matches)
				})
				r.Post("/bracket/regenerate", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
					matches, err := app.tournaments.RegenerateBracket(r.Context(), id, force)
					if err != nil {
						httputil.Error(w, "Failed to regenerate bracket", err)
						return
					}
					httputil.WriteJSON(w, http.StatusOK, matches)
				})
				r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					res, err := app.tournaments.StartTournament(r.Context(), id)
					if err != nil {
						httputil.Error(w, "Failed to start tournament", err)
						return
					}
					httputil.WriteJSON(w, http.StatusOK, res)
				})
				r.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
					id, ok := tournamentID(w, r)
					if !ok {
						return
					}
					if err := app.tournaments.ResetTournament(r.Context(), id); err != nil {
						httputil.Error(w, "Failed to reset tournament", err)
						return
					}
					w.WriteHeader(http.StatusNoContent)
				})
			})
		})

		r.Post("/api/allocate", func(w http.ResponseWriter, r *http.Request) {
			results, err := app.scheduler.AllocateAll(r.Context(), app.baseURL(r))
			if err != nil {
				httputil.Error(w, "Failed to allocate matches", err)
				return
			}
			httputil.WriteJSON(w, http.StatusOK, results)
		})

		r.Route("/api/matches/{slug}", func(r chi.Router) {
			r.Get("/veto", func(w http.ResponseWriter, r *http.Request) {
				state, err := app.vetoes.GetOrInitVeto(r.Context(), chi.URLParam(r, "slug"))
				if err != nil {
					httputil.Error(w, "Failed to get veto", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, state)
			})
			r.Post("/veto", func(w http.ResponseWriter, r *http.Request) {
				var action service.VetoAction
				if !decode(w, r, &action) {
					return
				}
				state, err := app.vetoes.SubmitVetoAction(r.Context(), chi.URLParam(r, "slug"), action)
				if err != nil {
					httputil.Error(w, "Failed to apply veto action", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, state)
			})
			r.Delete("/veto", func(w http.ResponseWriter, r *http.Request) {
				if err := app.vetoes.ResetVeto(r.Context(), chi.URLParam(r, "slug")); err != nil {
					httputil.Error(w, "Failed to reset veto", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Post("/allocate", func(w http.ResponseWriter, r *http.Request) {
				res, err := app.scheduler.AllocateOne(r.Context(), chi.URLParam(r, "slug"), app.baseURL(r))
				if err != nil {
					httputil.Error(w, "Failed to allocate match", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, res)
			})
			r.Post("/polling", func(w http.ResponseWriter, r *http.Request) {
				started := app.scheduler.StartPolling(chi.URLParam(r, "slug"), app.baseURL(r))
				httputil.WriteJSON(w, http.StatusOK, map[string]bool{"started": started})
			})
			r.Delete("/polling", func(w http.ResponseWriter, r *http.Request) {
				stopped := app.scheduler.StopPolling(chi.URLParam(r, "slug"))
				httputil.WriteJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
			})

			r.Post("/complete", func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					WinnerID *string `json:"winnerId"`
				}
				if !decode(w, r, &body) {
					return
				}
				if err := app.progression.HandleMatchCompleted(r.Context(), chi.URLParam(r, "slug"), body.WinnerID); err != nil {
					httputil.Error(w, "Failed to complete match", err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				stats, err := app.events.LiveStats(r.Context(), chi.URLParam(r, "slug"))
				if err != nil {
					httputil.Error(w, "Failed to get live stats", err)
					return
				}
				httputil.WriteJSON(w, http.StatusOK, stats)
			})
		})
	})

	return r
}

// baseURL lets an operator point servers at a different address for one call.
func (app *application) baseURL(r *http.Request) string {
	if override := r.URL.Query().Get("baseUrl"); override != "" {
		return override
	}
	return app.cfg.BaseURL
}

func tournamentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid tournament ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		httputil.BadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}
