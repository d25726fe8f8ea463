package logger

import "context"

type contextKey string

const RunIDKey contextKey = "run_id"
const ProjectKey contextKey = "project"

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

func WithProject(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ProjectKey, id)
}

func GetProject(ctx context.Context) string {
	if id, ok := ctx.Value(ProjectKey).(string); ok {
		return id
	}
	return ""
}
