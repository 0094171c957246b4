package zarr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/TuSKan/zarr-refs"
)

func TestStorage_File(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage := zarr.NewStorage()
	defer storage.Close()

	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "nested", "out.bin"))
	require.NoError(t, storage.Write(ctx, uri, []byte("0123456789")))

	onDisk, err := os.ReadFile(filepath.Join(dir, "nested", "out.bin"))
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(onDisk))

	data, err := storage.ReadRange(ctx, uri, 3, 4)
	require.NoError(t, err)
	require.Equal(t, "3456", string(data))

	// plain paths work too
	data, err = storage.ReadAll(ctx, filepath.Join(dir, "nested", "out.bin"))
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(data))

	info, err := storage.Stat(ctx, uri)
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Size)
	require.False(t, info.ModTime.IsZero())

	_, err = storage.ReadRange(ctx, uri, 8, 4)
	require.Error(t, err)

	_, err = storage.ReadAll(ctx, "file://"+filepath.ToSlash(filepath.Join(dir, "missing")))
	require.True(t, errors.Is(err, zarr.ErrNotFound))

	ok, err := storage.Exists(ctx, uri)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStorage_Mount(t *testing.T) {
	ctx := context.Background()
	storage := zarr.NewStorage()
	defer storage.Close()
	storage.Mount("mem://", memblob.OpenBucket(nil))

	require.NoError(t, storage.Write(ctx, "mem://hrrr/conus/a.grib2.idx", []byte("1:0:d=2023111809:TMP:2 m above ground:anl:\n")))
	data, err := storage.ReadAll(ctx, "mem://hrrr/conus/a.grib2.idx")
	require.NoError(t, err)
	require.Contains(t, string(data), "TMP")

	info, err := storage.Stat(ctx, "mem://hrrr/conus/a.grib2.idx")
	require.NoError(t, err)
	require.NotEmpty(t, info.MD5)

	ok, err := storage.Exists(ctx, "mem://hrrr/conus/b.grib2.idx")
	require.NoError(t, err)
	require.False(t, ok)
}
