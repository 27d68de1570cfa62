package domain

import "context"

// Submission is the opaque identifier a caller supplies to Handle. Its
// on-disk materialization is base_dir/<id>/, created by the ingress adapter
// before Handle is called.
type Submission struct {
	ID string
}

// CompletionHandler receives a finished SandboxResult for a submission id.
// It returns whether the backend accepted the result (true => cleanup,
// false => backup), matching the Completion adapter contract in spec.md
// §4.4. It is invoked synchronously from the dispatcher worker goroutine
// and must not block indefinitely.
type CompletionHandler func(ctx context.Context, id string, result SandboxResult) bool
