package dhtgroups

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndItems(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadTrusted(dir)
	require.NoError(t, err)

	require.NoError(t, g.Add("group-a", "item-1"))
	require.NoError(t, g.Add("group-a", "item-2"))

	items := g.Items("group-a")
	sort.Strings(items)
	require.Equal(t, []string{"item-1", "item-2"}, items)
	require.Equal(t, []string{"group-a"}, g.Groups())
}

func TestReloadPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadTrusted(dir)
	require.NoError(t, err)
	require.NoError(t, g.Add("group-a", "item-1"))

	g2, err := LoadTrusted(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"item-1"}, g2.Items("group-a"))
}

func TestRemoveEmptiesGroup(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadTrusted(dir)
	require.NoError(t, err)
	require.NoError(t, g.Add("group-a", "item-1"))

	emptied := g.Remove("item-1")
	require.Equal(t, []string{"group-a"}, emptied)
	require.Empty(t, g.Groups())
}

func TestRemoveKeepsNonEmptyGroup(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadTrusted(dir)
	require.NoError(t, err)
	require.NoError(t, g.Add("group-a", "item-1"))
	require.NoError(t, g.Add("group-a", "item-2"))

	emptied := g.Remove("item-1")
	require.Empty(t, emptied)
	require.Equal(t, []string{"item-2"}, g.Items("group-a"))
}

func TestBackedUnionAndRemove(t *testing.T) {
	localDir := t.TempDir()
	fallbackDir := t.TempDir()

	local, err := LoadTrusted(localDir)
	require.NoError(t, err)
	fallbackWritable, err := LoadTrusted(fallbackDir)
	require.NoError(t, err)
	require.NoError(t, fallbackWritable.Add("group-a", "item-fallback"))

	fallback, err := LoadUntrusted(fallbackDir)
	require.NoError(t, err)

	backed := &Backed{Local: local, Fallback: fallback}
	require.NoError(t, backed.Add("group-a", "item-local"))

	items := backed.Items("group-a")
	sort.Strings(items)
	require.Equal(t, []string{"item-fallback", "item-local"}, items)

	emptied := backed.Remove("item-local")
	require.Empty(t, emptied, "group-a is still served by the fallback")
}
