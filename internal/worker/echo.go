package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EchoHandler is the placeholder execution backend. It streams the
// cell's source back as stdout and reports success. Deployments attach
// a real interpreter by providing their own Handler.
type EchoHandler struct{}

func (EchoHandler) Execute(ctx context.Context, req Request, out *OutputContext) (Outcome, error) {
	for _, line := range strings.Split(req.Source, "\n") {
		if out.Interrupted() {
			return Outcome{Success: false, Error: "interrupted"}, nil
		}
		if err := out.Stdout(ctx, line+"\n"); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Success: true}, nil
}

// DirSources resolves a cell's source from a file named after the cell
// id inside a fixed directory.
type DirSources struct {
	Dir string
}

func (d DirSources) Source(_ context.Context, cellID string) (string, error) {
	path := filepath.Join(d.Dir, filepath.Base(cellID))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read source for cell %s: %w", cellID, err)
	}
	return string(data), nil
}
