package store

import (
	"context"

	"f1telemetryhub/pkg/model"
)

// EachSample walks every sample matched by q, page by page.
func (m *Manager) EachSample(ctx context.Context, q SampleQuery, fn func(model.TelemetrySample) error) error {
	for {
		page, err := m.QuerySamples(ctx, q)
		if err != nil {
			return err
		}
		for _, s := range page.Items {
			if err := fn(s); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		next, err := ParseCursor(page.NextCursor)
		if err != nil {
			return err
		}
		q.After = &next
	}
}

// EachEvent walks every event matched by q, page by page.
func (m *Manager) EachEvent(ctx context.Context, q EventQuery, fn func(model.SessionEvent) error) error {
	for {
		page, err := m.QueryEvents(ctx, q)
		if err != nil {
			return err
		}
		for _, e := range page.Items {
			if err := fn(e); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		next, err := ParseCursor(page.NextCursor)
		if err != nil {
			return err
		}
		q.After = &next
	}
}
