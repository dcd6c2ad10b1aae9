package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/coco/pkg/coco"
)

// openClient loads the configuration and builds a client. The caller must
// Close it.
func (a *app) openClient(cmd *cobra.Command, reg prometheus.Registerer) (*coco.Client, error) {
	s, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := a.newClient(coco.Options{
		Config:  s.config,
		Logger:  a.logger(cmd),
		Metrics: reg,
	})
	if err != nil {
		return nil, userError("%w (run coco init or set COCO_HOST)", err)
	}
	return client, nil
}

// loadMirror fills the client's mirror from the server, or from the
// local cache when cached is set.
func loadMirror(ctx context.Context, client *coco.Client, cached bool) error {
	if cached {
		return client.LoadCached()
	}
	return client.Sync(ctx)
}
