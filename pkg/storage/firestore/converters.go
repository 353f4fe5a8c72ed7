package firestore

import (
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"

	"github.com/fitglue/ingest/pkg/types"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get bool from map
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Helper to safely get an integer from map; Firestore returns int64, tests may use int
func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

func getStrings(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// timeOrNil keeps zero times out of documents.
func timeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func aggregationInt(v interface{}) int64 {
	switch n := v.(type) {
	case *firestorepb.Value:
		return n.GetIntegerValue()
	case int64:
		return n
	}
	return 0
}

// --- Credential Converters ---

func CredentialToFirestore(c *types.Credential) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":          c.UserID,
		"provider":         string(c.Provider),
		"external_user_id": c.ExternalUserID,
		"access_token":     c.AccessToken,
		"refresh_token":    c.RefreshToken,
		"token_type":       c.TokenType,
		"scope":            c.Scope,
		"date_created":     timeOrNil(c.DateCreated),
		"date_refreshed":   timeOrNil(c.DateRefreshed),
		"expires_at":       c.ExpiresAt,
	}
	if c.Permissions != nil {
		m["permissions"] = c.Permissions
		m["permissions_last_changed"] = timeOrNil(c.PermissionsLastChanged)
	}
	return m
}

func FirestoreToCredential(id string, m map[string]interface{}) *types.Credential {
	return &types.Credential{
		ID:                     id,
		UserID:                 getString(m, "user_id"),
		Provider:               types.ProviderKind(getString(m, "provider")),
		ExternalUserID:         getString(m, "external_user_id"),
		AccessToken:            getString(m, "access_token"),
		RefreshToken:           getString(m, "refresh_token"),
		TokenType:              getString(m, "token_type"),
		Scope:                  getString(m, "scope"),
		DateCreated:            getTime(m, "date_created"),
		DateRefreshed:          getTime(m, "date_refreshed"),
		ExpiresAt:              getInt64(m, "expires_at"),
		Permissions:            getStrings(m, "permissions"),
		PermissionsLastChanged: getTime(m, "permissions_last_changed"),
	}
}

// --- QueueItem Converters ---

func QueueErrorToFirestore(e types.QueueError) map[string]interface{} {
	m := map[string]interface{}{
		"timestamp": e.Timestamp,
		"error":     e.Error,
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}

func QueueItemToFirestore(q *types.QueueItem) map[string]interface{} {
	errs := make([]interface{}, 0, len(q.Errors))
	for _, e := range q.Errors {
		errs = append(errs, QueueErrorToFirestore(e))
	}
	return map[string]interface{}{
		"provider":         string(q.Provider),
		"external_user_id": q.ExternalUserID,
		"workout_id":       q.WorkoutID,
		"file_url":         q.FileURL,
		"processed":        q.Processed,
		"retry_count":      int64(q.RetryCount),
		"errors":           errs,
		"date_created":     timeOrNil(q.DateCreated),
		"processed_at":     timeOrNil(q.ProcessedAt),
	}
}

func FirestoreToQueueItem(id string, m map[string]interface{}) *types.QueueItem {
	q := &types.QueueItem{
		ID:             id,
		Provider:       types.ProviderKind(getString(m, "provider")),
		ExternalUserID: getString(m, "external_user_id"),
		WorkoutID:      getString(m, "workout_id"),
		FileURL:        getString(m, "file_url"),
		Processed:      getBool(m, "processed"),
		RetryCount:     int(getInt64(m, "retry_count")),
		DateCreated:    getTime(m, "date_created"),
		ProcessedAt:    getTime(m, "processed_at"),
	}
	if raw, ok := m["errors"].([]interface{}); ok {
		for _, r := range raw {
			em, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			q.Errors = append(q.Errors, types.QueueError{
				Timestamp: getTime(em, "timestamp"),
				Error:     getString(em, "error"),
				Details:   getStrings(em, "details"),
			})
		}
	}
	return q
}

// --- FailedJob Converters ---

func FailedJobToFirestore(f *types.FailedJob) map[string]interface{} {
	return map[string]interface{}{
		"provider":          string(f.Provider),
		"origin_collection": f.OriginCollection,
		"origin_id":         f.OriginID,
		"original_payload":  f.OriginalPayload,
		"context":           f.Context,
		"error":             f.Error,
		"failed_at":         f.FailedAt,
	}
}

func FirestoreToFailedJob(id string, m map[string]interface{}) *types.FailedJob {
	f := &types.FailedJob{
		ID:               id,
		Provider:         types.ProviderKind(getString(m, "provider")),
		OriginCollection: getString(m, "origin_collection"),
		OriginID:         getString(m, "origin_id"),
		Context:          getString(m, "context"),
		Error:            getString(m, "error"),
		FailedAt:         getTime(m, "failed_at"),
	}
	if payload, ok := m["original_payload"].(map[string]interface{}); ok {
		f.OriginalPayload = payload
	}
	return f
}

// --- BackfillState Converters ---

func BackfillStateToFirestore(b *types.BackfillState) map[string]interface{} {
	return map[string]interface{}{
		"user_id":         b.UserID,
		"provider":        string(b.Provider),
		"last_import":     timeOrNil(b.LastImport),
		"processed_count": int64(b.ProcessedCount),
	}
}

func FirestoreToBackfillState(_ string, m map[string]interface{}) *types.BackfillState {
	return &types.BackfillState{
		UserID:         getString(m, "user_id"),
		Provider:       types.ProviderKind(getString(m, "provider")),
		LastImport:     getTime(m, "last_import"),
		ProcessedCount: int(getInt64(m, "processed_count")),
	}
}

// --- Workout Converters ---

func WorkoutToFirestore(w *types.Workout) map[string]interface{} {
	return map[string]interface{}{
		"user_id":            w.UserID,
		"provider":           string(w.Provider),
		"workout_id":         w.WorkoutID,
		"file_uri":           w.FileURI,
		"sport":              w.Sport,
		"start_time":         timeOrNil(w.StartTime),
		"total_elapsed_time": w.TotalElapsedTime,
		"total_distance":     w.TotalDistance,
		"ingested_at":        w.IngestedAt,
	}
}

func FirestoreToWorkout(id string, m map[string]interface{}) *types.Workout {
	return &types.Workout{
		ID:               id,
		UserID:           getString(m, "user_id"),
		Provider:         types.ProviderKind(getString(m, "provider")),
		WorkoutID:        getString(m, "workout_id"),
		FileURI:          getString(m, "file_uri"),
		Sport:            getString(m, "sport"),
		StartTime:        getTime(m, "start_time"),
		TotalElapsedTime: getFloat(m, "total_elapsed_time"),
		TotalDistance:    getFloat(m, "total_distance"),
		IngestedAt:       getTime(m, "ingested_at"),
	}
}
