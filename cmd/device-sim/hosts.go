package main

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fieldlink-iot/connect/firmware"
	"github.com/fieldlink-iot/connect/protocol"
)

// fsFileHost is a filemgmt.Host backed by the local filesystem, grounded on
// the original implementation's examples/full_feature_set
// file_management_implementation.c: files land under a "files/" directory,
// each chunk is written with a plain append, and ReadChunk seeks back to the
// chunk's recorded byte range for post-transfer verification.
type fsFileHost struct {
	dir string

	f       *os.File
	name    string
	offsets [][2]int64 // [start, end) byte range per chunk index

	urlName string
}

func newFSFileHost(dir string) *fsFileHost {
	return &fsFileHost{dir: dir}
}

func (h *fsFileHost) Start(name string, size int64) bool {
	if err := os.MkdirAll(h.dir, 0777); err != nil {
		return false
	}
	f, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		return false
	}
	h.f = f
	h.name = name
	h.offsets = nil
	return true
}

func (h *fsFileHost) WriteChunk(data []byte) bool {
	if h.f == nil {
		return false
	}
	start, err := h.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	n, err := h.f.Write(data)
	if err != nil || n != len(data) {
		return false
	}
	h.offsets = append(h.offsets, [2]int64{start, start + int64(n)})
	return true
}

func (h *fsFileHost) ReadChunk(index int) ([]byte, bool) {
	if h.f == nil || index < 0 || index >= len(h.offsets) {
		return nil, false
	}
	bounds := h.offsets[index]
	data := make([]byte, bounds[1]-bounds[0])
	if _, err := h.f.ReadAt(data, bounds[0]); err != nil {
		return nil, false
	}
	return data, true
}

func (h *fsFileHost) Abort() {
	if h.f == nil {
		return
	}
	name := h.f.Name()
	h.f.Close()
	os.Remove(name)
	h.f = nil
}

func (h *fsFileHost) Finalize() {
	if h.f != nil {
		h.f.Close()
		h.f = nil
	}
}

// StartURLDownload is a dummy downloader, same as the original
// implementation's "Dummy file downloader" stub: it records the requested
// name and reports success on the very next poll.
func (h *fsFileHost) StartURLDownload(url string) bool {
	h.urlName = filepath.Base(url)
	return true
}

func (h *fsFileHost) IsURLDownloadDone() (done, success bool, downloadedName string) {
	return true, true, h.urlName
}

func (h *fsFileHost) FileList() []protocol.FileListEntry {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil
	}
	var out []protocol.FileListEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, protocol.FileListEntry{Name: e.Name(), Size: info.Size()})
	}
	return out
}

func (h *fsFileHost) RemoveFile(name string) bool {
	return os.Remove(filepath.Join(h.dir, name)) == nil
}

func (h *fsFileHost) PurgeFiles() bool {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return err == nil
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(h.dir, e.Name())); err != nil {
			return false
		}
	}
	return true
}

// fsFirmwareHost is a firmware.Host backed by the local filesystem, grounded
// on firmware_implementation.c's firmware_update_persist_firmware_version /
// firmware_update_unpersist_firmware_version pair: the checkpoint is a
// single integer written to a dotfile next to the transferred files so it
// survives the reboot an install causes. Installation itself is simulated:
// it checks that the named file exists under the same directory (where an
// fsFileHost puts transferred files) and reports done on the very next poll, mirroring the original example's
// "dummy" install/download stubs.
type fsFirmwareHost struct {
	dir            string
	checkpointPath string

	installing bool
}

func newFSFirmwareHost(dir string) *fsFirmwareHost {
	return &fsFirmwareHost{dir: dir, checkpointPath: filepath.Join(dir, ".firmware_checkpoint")}
}

func (h *fsFirmwareHost) StartInstallation(name string) bool {
	if _, err := os.Stat(filepath.Join(h.dir, name)); err != nil {
		return false
	}
	h.installing = true
	return true
}

func (h *fsFirmwareHost) IsInstallationCompleted() (done, success bool) {
	if !h.installing {
		return false, false
	}
	h.installing = false
	return true, true
}

func (h *fsFirmwareHost) VerificationStore(c firmware.Checkpoint) bool {
	if err := os.MkdirAll(h.dir, 0777); err != nil {
		return false
	}
	return os.WriteFile(h.checkpointPath, []byte(strconv.Itoa(int(c))), 0644) == nil
}

func (h *fsFirmwareHost) VerificationRead() firmware.Checkpoint {
	data, err := os.ReadFile(h.checkpointPath)
	if err != nil {
		return firmware.CheckpointIdle
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return firmware.CheckpointIdle
	}
	return firmware.Checkpoint(n)
}

func (h *fsFirmwareHost) AbortInstallation() bool {
	h.installing = false
	return true
}
