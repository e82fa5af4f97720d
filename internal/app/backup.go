package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"aperture/internal/aperture"
	"aperture/internal/config"
	"aperture/internal/encryption"
)

// InitBackupKeys generates the age key pair used to seal ledger backups.
func InitBackupKeys(cfg config.BackupConfig, passphrase aperture.Secret) error {
	if err := encryption.NewKeyring(cfg).Setup(passphrase); err != nil {
		return fmt.Errorf("setting up backup keys: %w", err)
	}
	return nil
}

// CreateBackup snapshots the ledger database and writes it, sealed, to
// <backup.dir>/aperture-<timestamp>.db.age. It returns the backup path.
func (a *App) CreateBackup(ctx context.Context) (string, error) {
	keyring := encryption.NewKeyring(a.cfg.Backup)
	if !keyring.IsConfigured() {
		return "", fmt.Errorf("backup keys are not set up: run 'aperture backup keys init'")
	}
	if err := os.MkdirAll(a.cfg.Backup.Dir, 0o700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	snapshotDir, err := os.MkdirTemp("", "aperture-backup-*")
	if err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	defer os.RemoveAll(snapshotDir)

	// VACUUM INTO refuses to overwrite, so the snapshot path must not exist yet.
	snapshot := filepath.Join(snapshotDir, "ledger.db")
	if err := a.db.BackupTo(ctx, snapshot); err != nil {
		return "", err
	}

	name := fmt.Sprintf("aperture-%s.db.age", a.clock.Now().UTC().Format("20060102T150405Z"))
	dest := filepath.Join(a.cfg.Backup.Dir, name)
	if err := sealFile(keyring, snapshot, dest); err != nil {
		return "", err
	}

	a.logger.Info("ledger backup created", "path", dest)
	return dest, nil
}

func sealFile(keyring *encryption.Keyring, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := keyring.Seal(in, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("sealing backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing backup file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming backup file: %w", err)
	}
	return nil
}

// RestoreBackup decrypts the backup at src into a database file at dest.
// An existing dest is never overwritten.
func RestoreBackup(cfg config.BackupConfig, src, dest string, passphrase aperture.Secret) error {
	opener, err := encryption.NewKeyring(cfg).Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking backup key: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating restore directory: %w", err)
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating restored database: %w", err)
	}

	if err := opener.Open(in, out); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("decrypting backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing restored database: %w", err)
	}
	return nil
}
