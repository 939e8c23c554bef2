package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captured from util-linux 2.39 with -J -b
const lsblkSample = `{
   "blockdevices": [
      {"name":"sdb", "kname":"sdb", "path":"/dev/sdb", "type":"disk", "size":64023257088, "serial":"4C530001", "model":"Ultra", "vendor":"SanDisk ", "rev":"1.00", "tran":"usb", "state":"running", "rm":true, "fstype":null, "label":null, "uuid":null, "mountpoint":null,
         "children": [
            {"name":"sdb1", "kname":"sdb1", "path":"/dev/sdb1", "type":"part", "size":64022208512, "serial":null, "model":null, "vendor":null, "rev":null, "tran":null, "state":null, "rm":true, "fstype":"exfat", "label":"BACKUP", "uuid":"1234-ABCD", "mountpoint":"/media/user/BACKUP"}
         ]
      }
   ]
}`

// older releases print numbers and flags as strings and use mountpoints
const lsblkLegacy = `{"blockdevices":[{"name":"sdc","type":"disk","size":"16008609792","rm":"1","model":"Flash Disk","tran":"usb","mountpoints":[null],
 "children":[{"name":"sdc1","type":"part","size":"16007561216","rm":"1","fstype":"vfat","label":"STICK","mountpoints":["/mnt/stick"]},
             {"name":"sdc2","type":"part","size":"1048576","rm":"1","mountpoints":[null]}]}]}`

func TestParseLsblk(t *testing.T) {
	d, err := parseLsblk([]byte(lsblkSample))
	require.NoError(t, err)
	assert.Equal(t, "sdb", d.Name)
	assert.Equal(t, flexUint64(64023257088), d.Size)
	assert.True(t, bool(d.RM))
	require.Len(t, d.Children, 1)
	assert.Equal(t, "/media/user/BACKUP", d.Children[0].mountpoint())
}

func TestParseLsblkLegacyTypes(t *testing.T) {
	d, err := parseLsblk([]byte(lsblkLegacy))
	require.NoError(t, err)

	info := storageFromLsblk(context.Background(), d, nil)
	assert.Equal(t, "Flash Disk", info.Model)
	assert.Equal(t, uint64(16008609792), info.TotalBytes)
	assert.Equal(t, "Removable Media", info.MediaType)
	assert.Equal(t, "OK", info.Status)
	assert.Equal(t, uint32(2), info.PartitionCount)
	require.Len(t, info.Volumes, 1)
	assert.Equal(t, "/mnt/stick", info.Volumes[0].DriveLetter)
	assert.Equal(t, "STICK", info.Volumes[0].VolumeName)
	assert.Equal(t, uint64(16007561216), info.Volumes[0].TotalBytes, "partition size without usage data")
}

func TestParseLsblkErrors(t *testing.T) {
	_, err := parseLsblk([]byte(`not json`))
	assert.Error(t, err)

	_, err = parseLsblk([]byte(`{"blockdevices":[{"name":"sdb1","type":"part"}]}`))
	assert.Error(t, err)
}

func TestUnformattedDiskHasNoVolumes(t *testing.T) {
	d, err := parseLsblk([]byte(`{"blockdevices":[{"name":"sdd","type":"disk","size":8000000000,"rm":false}]}`))
	require.NoError(t, err)
	info := storageFromLsblk(context.Background(), d, nil)
	assert.NotNil(t, info.Volumes)
	assert.Empty(t, info.Volumes)
	assert.Equal(t, "Fixed hard disk media", info.MediaType)
}
