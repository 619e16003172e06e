package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// UserDAO stamps last-login times for accounts that complete
// authentication. It is the only write path this gateway has into
// persistent game-account state.
type UserDAO struct {
	db *Database
}

// NewUserDAO builds a UserDAO over db.
func NewUserDAO(db *Database) *UserDAO {
	return &UserDAO{db: db}
}

// StampLogin records username's most recent successful login time.
func (u *UserDAO) StampLogin(username string, at time.Time) error {
	_, err := u.db.exec(
		`INSERT INTO users (username, last_login_at) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET last_login_at = excluded.last_login_at`,
		username, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: stamp login for %s: %w", username, err)
	}
	return nil
}

// LastLogin returns the last recorded login time for username, and
// whether a record exists at all.
func (u *UserDAO) LastLogin(username string) (time.Time, bool, error) {
	var raw string
	err := u.db.queryRow(`SELECT last_login_at FROM users WHERE username = ?`, username).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: last login for %s: %w", username, err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse last login for %s: %w", username, err)
	}
	return t, true, nil
}

// PatchDAO persists the size/MD5 fields the patch resolver discovers by
// statting and hashing files on disk, so subsequent boots don't re-hash
// unchanged files. It implements patch.MetaRepairer.
type PatchDAO struct {
	db *Database
}

// NewPatchDAO builds a PatchDAO over db.
func NewPatchDAO(db *Database) *PatchDAO {
	return &PatchDAO{db: db}
}

// RepairPatch persists the resolved size and MD5 for a patch file, keyed
// by its name.
func (p *PatchDAO) RepairPatch(name string, size int64, md5 [16]byte) error {
	_, err := p.db.exec(
		`INSERT INTO patches (name, size, md5) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET size = excluded.size, md5 = excluded.md5`,
		name, size, hex.EncodeToString(md5[:]),
	)
	if err != nil {
		return fmt.Errorf("store: repair patch %s: %w", name, err)
	}
	return nil
}

// Lookup returns a previously repaired patch's size and MD5, if any.
func (p *PatchDAO) Lookup(name string) (size int64, md5 [16]byte, ok bool, err error) {
	var hexMD5 string
	rowErr := p.db.queryRow(`SELECT size, md5 FROM patches WHERE name = ?`, name).Scan(&size, &hexMD5)
	if rowErr == sql.ErrNoRows {
		return 0, md5, false, nil
	}
	if rowErr != nil {
		return 0, md5, false, fmt.Errorf("store: lookup patch %s: %w", name, rowErr)
	}
	decoded, decErr := hex.DecodeString(hexMD5)
	if decErr != nil || len(decoded) != 16 {
		return 0, md5, false, fmt.Errorf("store: corrupt md5 for patch %s", name)
	}
	copy(md5[:], decoded)
	return size, md5, true, nil
}

// IpBanDAO loads the boot-time ban-list snapshot that ipban.Cache wraps.
// It implements ipban.Loader.
type IpBanDAO struct {
	db *Database
}

// NewIpBanDAO builds an IpBanDAO over db.
func NewIpBanDAO(db *Database) *IpBanDAO {
	return &IpBanDAO{db: db}
}

// LoadBannedCIDRs returns every banned CIDR currently on record.
func (i *IpBanDAO) LoadBannedCIDRs() ([]string, error) {
	rows, err := i.db.query(`SELECT cidr FROM ip_bans`)
	if err != nil {
		return nil, fmt.Errorf("store: load banned CIDRs: %w", err)
	}
	defer rows.Close()

	var cidrs []string
	for rows.Next() {
		var cidr string
		if err := rows.Scan(&cidr); err != nil {
			return nil, fmt.Errorf("store: scan banned CIDR: %w", err)
		}
		cidrs = append(cidrs, cidr)
	}
	return cidrs, rows.Err()
}

// AddBan records a new banned CIDR. Only the store tests call it; the
// operator CLI has no add-ban command.
func (i *IpBanDAO) AddBan(cidr string) error {
	_, err := i.db.exec(`INSERT OR IGNORE INTO ip_bans (cidr) VALUES (?)`, cidr)
	if err != nil {
		return fmt.Errorf("store: add ban %s: %w", cidr, err)
	}
	return nil
}

// RemoveBan deletes a banned CIDR.
func (i *IpBanDAO) RemoveBan(cidr string) error {
	_, err := i.db.exec(`DELETE FROM ip_bans WHERE cidr = ?`, cidr)
	if err != nil {
		return fmt.Errorf("store: remove ban %s: %w", cidr, err)
	}
	return nil
}
