package builder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Adapter builds the appliance image from a git checkout.
type Adapter struct {
	cli      *client.Client
	progress io.Writer
}

// NewBuilderAdapter shares the runtime's docker client. Clone and build progress is
// written to progress.
func NewBuilderAdapter(cli *client.Client, progress io.Writer) *Adapter {
	if progress == nil {
		progress = io.Discard
	}
	return &Adapter{cli: cli, progress: progress}
}

// BuildImage clones repoURL at ref and builds imageName from its Dockerfile.
func (a *Adapter) BuildImage(ctx context.Context, repoURL, ref, imageName string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lighthouse-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	logger.InfoCtx(ctx, "cloning appliance source", "repo", repoURL, "ref", ref)
	opts := &git.CloneOptions{
		URL:          repoURL,
		Progress:     a.progress,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	if _, err := git.PlainCloneContext(ctx, tmpDir, false, opts); err != nil {
		// ref may be a tag rather than a branch
		if ref == "" {
			return "", fmt.Errorf("failed to clone repo: %w", err)
		}
		_ = os.RemoveAll(tmpDir)
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		if _, err := git.PlainCloneContext(ctx, tmpDir, false, opts); err != nil {
			return "", fmt.Errorf("failed to clone repo at %q: %w", ref, err)
		}
	}

	buildCtx, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{ExcludePatterns: []string{".git"}})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	logger.InfoCtx(ctx, "building appliance image", "image", imageName)
	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The build only finishes once the stream is drained; errors arrive inside it.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, a.progress, 0, false, nil); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	return imageName, nil
}
