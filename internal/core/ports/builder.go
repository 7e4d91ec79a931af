package ports

import "context"

// BuilderService defines operations for building the appliance image from source code.
type BuilderService interface {
	// BuildImage clones a repository at ref and builds a Docker image from it.
	// It returns the tag of the built image or an error.
	BuildImage(ctx context.Context, repoURL, ref, imageName string) (string, error)
}
