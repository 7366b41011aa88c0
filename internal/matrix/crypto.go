// ABOUTME: End-to-end encryption for the desk's direct rooms
// ABOUTME: cryptohelper backed by a per-account SQLite store with device-change recovery

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

type cryptoSession struct {
	helper *cryptohelper.CryptoHelper
}

// setupCrypto attaches a crypto helper to client. Without a recovery key
// the device can still encrypt but is not cross-signed.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*cryptoSession, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	account := client.UserID.String()
	dbPath := filepath.Join(dataDir, "crypto-"+storeSlug(account)+".db")
	logger = logger.With("component", "matrix-crypto", "db", dbPath)

	stale, err := storedDeviceDiffers(dbPath, client.DeviceID.String())
	if err != nil {
		logger.Debug("could not read stored device", "error", err)
	}
	if stale {
		logger.Warn("device changed since last run, discarding crypto store")
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("removing stale crypto store: %w", err)
			}
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, pickleKey(account), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return &cryptoSession{helper: helper}, nil
	}
	if machine := helper.Machine(); machine == nil {
		logger.Warn("crypto machine missing, skipping recovery key")
	} else if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed, continuing unverified", "error", err)
	} else {
		logger.Info("encryption enabled, device verified")
	}
	return &cryptoSession{helper: helper}, nil
}

func (s *cryptoSession) Close() error {
	if s == nil || s.helper == nil {
		return nil
	}
	return s.helper.Close()
}

// storedDeviceDiffers reports whether the crypto store at dbPath belongs
// to another device. A missing store or an empty account table is not a
// mismatch.
func storedDeviceDiffers(dbPath, device string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != device, nil
}

// pickleKey derives the store encryption key from the account id.
func pickleKey(account string) []byte {
	sum := sha256.Sum256([]byte("olymp-desk-crypto:" + account))
	return sum[:]
}

// storeSlug turns "@desk:example.org" into "desk_example.org".
func storeSlug(account string) string {
	account = strings.TrimPrefix(account, "@")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ':':
			return '_'
		default:
			return -1
		}
	}, account)
}
