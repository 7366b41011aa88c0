// ABOUTME: mautrix client construction for the desk bot account
// ABOUTME: Applies configured device id and turns on E2EE when requested

package matrix

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/olymp-desk/internal/config"
)

// Connect builds a client for cfg. When encryption is enabled the returned
// closer shuts down the crypto store; it is never nil.
func Connect(ctx context.Context, cfg config.MatrixConfig, logger *slog.Logger) (*mautrix.Client, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.DeviceID != "" {
		client.DeviceID = id.DeviceID(cfg.DeviceID)
	}

	noop := func() error { return nil }
	if !cfg.Encryption {
		return client, noop, nil
	}

	if client.DeviceID == "" {
		resp, err := client.Whoami(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving device id: %w", err)
		}
		client.DeviceID = resp.DeviceID
	}

	crypto, err := setupCrypto(ctx, client, cfg.RecoveryKey, cfg.DataDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, crypto.Close, nil
}
