package viewer

import (
	"context"

	"github.com/iguinea/mongodb-session-manager/store"
)

const defaultPageSize = 25

// Viewer is the query engine backing the session viewer's API and HTML
// frontend. It holds no state of its own beyond a Store reference and a
// default page size.
type Viewer struct {
	store         store.Store
	pageSize      int64
	enumFields    []string
	enumMaxValues int64
}

// Config tunes a Viewer's defaults.
type Config struct {
	// PageSize is the default Limit used by Search when the caller
	// leaves it unset. Defaults to 25.
	PageSize int64

	// EnumFields lists indexed fields (dotted paths, with or without
	// the "metadata." prefix) eligible for promotion to FieldEnum by
	// ListIndexedFields.
	EnumFields []string

	// EnumMaxValues bounds how many distinct values an EnumFields entry
	// may have before ListIndexedFields gives up on enum promotion and
	// reports its base inferred type instead. Defaults to 50.
	EnumMaxValues int64
}

// New builds a Viewer over st using cfg's defaults.
func New(st store.Store, cfg Config) *Viewer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.EnumMaxValues <= 0 {
		cfg.EnumMaxValues = 50
	}
	return &Viewer{store: st, pageSize: cfg.PageSize, enumFields: cfg.EnumFields, enumMaxValues: cfg.EnumMaxValues}
}

// Search returns a page of sessions matching params.
func (v *Viewer) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = v.pageSize
	}
	if limit > 200 {
		limit = 200
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	results, total, err := v.store.Search(ctx, store.SearchParams{
		Query:          params.Query,
		SessionType:    params.SessionType,
		MetadataFilter: params.MetadataFilter,
		CreatedAtStart: params.CreatedAtStart,
		CreatedAtEnd:   params.CreatedAtEnd,
		Limit:          limit,
		Offset:         offset,
		OrderBy:        params.OrderBy,
		OrderAscending: params.OrderAscending,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, SessionSummary{
			SessionID:       r.Session.SessionID,
			SessionType:     r.Session.SessionType,
			ApplicationName: r.Session.ApplicationName,
			Metadata:        r.Session.Metadata,
			AgentCount:      r.AgentCount,
			MessageCount:    r.MessageCount,
			FeedbackCount:   r.FeedbackCount,
			CreatedAt:       r.Session.CreatedAt,
			UpdatedAt:       r.Session.UpdatedAt,
		})
	}

	return &SearchResult{
		Sessions:   summaries,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+int64(len(summaries)) < total,
	}, nil
}
