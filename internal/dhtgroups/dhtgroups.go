// Package dhtgroups persists named sets of resource identifiers (DHT
// swarm membership) as a small sharded directory tree, so a node knows
// which swarms to keep announcing itself in across restarts.
//
// Grounded on original_source/src/cache/dht_groups.{h,cpp}
// (DhtGroupsImpl, FullDhtGroups, BackedDhtGroups).
package dhtgroups

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// maxURLSize bounds a single group-name or item-name file, matching the
// reference implementation's MAX_URL_SIZE (practical URL length limit,
// https://stackoverflow.com/a/417184/273348).
const maxURLSize = 2000

const (
	groupNameFile = "group_name"
	itemsDirName  = "items"
)

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Groups is the read side shared by every variant: the static cache
// loaded from an untrusted directory, and the writable set used by the
// local node.
type Groups interface {
	Groups() []string
	Items(groupName string) []string
}

// Writable additionally supports local mutation, used by the owning
// node to track which resources it has injected or cached.
type Writable interface {
	Groups
	Add(groupName, itemName string) error
	Remove(itemName string) []string
	RemoveGroup(groupName string)
}

// store is the on-disk representation shared by LoadTrusted/LoadUntrusted.
type store struct {
	rootDir string
	trusted bool
	groups  map[string]map[string]bool
}

func tryRemove(path string) {
	if err := os.RemoveAll(path); err != nil {
		log.Printf("🧹 dht groups: failed to remove %s: %v", path, err)
	}
}

func readNameFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("dhtgroups: not a regular file: %s", path)
	}
	if info.Size() > maxURLSize {
		return "", fmt.Errorf("dhtgroups: %s exceeds max size", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func loadGroup(dir string, trusted bool) (name string, items map[string]bool, err error) {
	name, err = readNameFile(filepath.Join(dir, groupNameFile))
	if err != nil {
		return "", nil, err
	}
	if !trusted && filepath.Base(dir) != sha1Hex(name) {
		return "", nil, fmt.Errorf("dhtgroups: group name does not match its path: %s", dir)
	}

	itemsDir := filepath.Join(dir, itemsDirName)
	entries, err := os.ReadDir(itemsDir)
	if os.IsNotExist(err) {
		return name, map[string]bool{}, nil
	}
	if err != nil {
		return "", nil, err
	}

	items = map[string]bool{}
	for _, ent := range entries {
		itemPath := filepath.Join(itemsDir, ent.Name())
		itemName, rerr := readNameFile(itemPath)
		if rerr != nil {
			if trusted {
				tryRemove(itemPath)
			}
			continue
		}
		if !trusted && ent.Name() != sha1Hex(itemName) {
			log.Printf("dht groups: group item name does not match its path: %s", dir)
			continue
		}
		items[itemName] = true
	}
	return name, items, nil
}

// load reads every group subdirectory under rootDir. A trusted root is
// created if missing; an untrusted (static, read-only) root must already
// exist. Groups that fail to load, or that load empty, are dropped (and,
// when trusted, removed from disk).
func load(rootDir string, trusted bool) (*store, error) {
	info, err := os.Stat(rootDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("dhtgroups: not a directory: %s", rootDir)
		}
	case os.IsNotExist(err) && trusted:
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			return nil, fmt.Errorf("dhtgroups: failed to create %s: %w", rootDir, err)
		}
	case os.IsNotExist(err):
		return nil, fmt.Errorf("dhtgroups: groups directory does not exist: %s", rootDir)
	default:
		return nil, err
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	groups := map[string]map[string]bool{}
	for _, ent := range entries {
		if !ent.IsDir() {
			log.Printf("dht groups: non-directory found in %s: %s", rootDir, ent.Name())
			continue
		}
		dir := filepath.Join(rootDir, ent.Name())
		name, items, err := loadGroup(dir, trusted)
		if err != nil || len(items) == 0 {
			if trusted {
				tryRemove(dir)
			}
			continue
		}
		groups[name] = items
	}

	return &store{rootDir: rootDir, trusted: trusted, groups: groups}, nil
}

// LoadTrusted loads (creating if absent) a writable groups directory
// owned by this node.
func LoadTrusted(rootDir string) (Writable, error) {
	s, err := load(rootDir, true)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoadUntrusted loads a read-only static cache of groups shipped
// alongside a bundle, rejecting any group/item whose directory name
// doesn't match the SHA-1 hex digest of its content.
func LoadUntrusted(rootDir string) (Groups, error) {
	return load(rootDir, false)
}

func (s *store) Groups() []string {
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

func (s *store) Items(groupName string) []string {
	items := s.groups[groupName]
	out := make([]string, 0, len(items))
	for i := range items {
		out = append(out, i)
	}
	return out
}

func (s *store) groupPath(groupName string) string {
	return filepath.Join(s.rootDir, sha1Hex(groupName))
}

func (s *store) itemsPath(groupName string) string {
	return filepath.Join(s.groupPath(groupName), itemsDirName)
}

func (s *store) itemPath(groupName, itemName string) string {
	return filepath.Join(s.itemsPath(groupName), sha1Hex(itemName))
}

// Add records that itemName belongs to groupName, creating the group's
// on-disk representation if it doesn't already exist. On any failure
// partway through, whatever was created for this call is rolled back.
func (s *store) Add(groupName, itemName string) error {
	groupPath := s.groupPath(groupName)
	_, existed := s.groups[groupName]

	if !existed {
		if err := os.MkdirAll(groupPath, 0o755); err != nil {
			return fmt.Errorf("dhtgroups: failed to create group dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(groupPath, groupNameFile), []byte(groupName), 0o644); err != nil {
			tryRemove(groupPath)
			return fmt.Errorf("dhtgroups: failed to write group name: %w", err)
		}
	}

	itemsPath := s.itemsPath(groupName)
	if err := os.MkdirAll(itemsPath, 0o755); err != nil {
		if !existed {
			tryRemove(groupPath)
		}
		return fmt.Errorf("dhtgroups: failed to create items dir: %w", err)
	}

	if err := os.WriteFile(s.itemPath(groupName, itemName), []byte(itemName), 0o644); err != nil {
		if !existed && dirEmpty(itemsPath) {
			tryRemove(groupPath)
		}
		return fmt.Errorf("dhtgroups: failed to write group item: %w", err)
	}

	if s.groups[groupName] == nil {
		s.groups[groupName] = map[string]bool{}
	}
	s.groups[groupName][itemName] = true
	return nil
}

func dirEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}

// Remove drops itemName from every group it belongs to, returning the
// names of groups that became empty (and were therefore removed) as a
// result.
func (s *store) Remove(itemName string) []string {
	var emptied []string
	for groupName, items := range s.groups {
		if !items[itemName] {
			continue
		}
		delete(items, itemName)
		tryRemove(s.itemPath(groupName, itemName))
		if len(items) == 0 {
			emptied = append(emptied, groupName)
			tryRemove(s.groupPath(groupName))
			delete(s.groups, groupName)
		}
	}
	return emptied
}

// RemoveGroup drops an entire group regardless of its contents.
func (s *store) RemoveGroup(groupName string) {
	if _, ok := s.groups[groupName]; !ok {
		return
	}
	tryRemove(s.groupPath(groupName))
	delete(s.groups, groupName)
}

// Backed composes a writable, local set of groups with a read-only
// fallback (e.g. a static cache shipped with the client), presenting
// their union.
type Backed struct {
	Local    Writable
	Fallback Groups
}

func (b *Backed) Groups() []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range b.Local.Groups() {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, g := range b.Fallback.Groups() {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

func (b *Backed) Items(groupName string) []string {
	seen := map[string]bool{}
	var out []string
	for _, i := range b.Local.Items(groupName) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for _, i := range b.Fallback.Items(groupName) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

func (b *Backed) Add(groupName, itemName string) error {
	return b.Local.Add(groupName, itemName)
}

// Remove only reports a group as emptied if it is also absent from the
// fallback: a group still served by the fallback is not truly gone.
func (b *Backed) Remove(itemName string) []string {
	emptied := b.Local.Remove(itemName)
	fallback := map[string]bool{}
	for _, g := range b.Fallback.Groups() {
		fallback[g] = true
	}
	out := emptied[:0]
	for _, g := range emptied {
		if !fallback[g] {
			out = append(out, g)
		}
	}
	return out
}

func (b *Backed) RemoveGroup(groupName string) {
	b.Local.RemoveGroup(groupName)
}
