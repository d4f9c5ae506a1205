package api

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"f1telemetryhub/pkg/layout"
	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/resources"
	"f1telemetryhub/pkg/store"
)

const svgContentType = "image/svg+xml"

func (a *API) loadTrace(ctx context.Context, sessionID string) (layout.Trace, error) {
	b := layout.NewBuilder()
	err := a.store.EachSample(ctx, store.SampleQuery{SessionID: sessionID}, func(s model.TelemetrySample) error {
		b.Add(s)
		return nil
	})
	return b.Trace(), err
}

// traceHandler renders live sessions on every request; ended sessions are
// immutable so their image is built once under the resources dir.
func (a *API) traceHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		s, err := a.store.GetSession(r.Context(), sessionID)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		if s.Live() || a.resourcesDir == "" {
			trace, err := a.loadTrace(r.Context(), sessionID)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			w.Header().Set("Content-Type", svgContentType)
			if err := layout.RenderSVG(w, trace); err != nil {
				a.logger.Warn("rendering trace", "session", sessionID, "err", err.Error())
			}
			return
		}

		res := resources.SessionTrace(a.resourcesDir, sessionID, func(ctx context.Context, f *os.File) error {
			trace, err := a.loadTrace(ctx, sessionID)
			if err != nil {
				return err
			}
			return layout.RenderSVG(f, trace)
		})
		path, err := res.Build(r.Context(), a.logger)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", svgContentType)
		http.ServeFile(w, r, path)
	}
}
