package worker

import (
    "os"
    "path/filepath"
    "strings"
    "time"
)

// CleanupScratch removes conversion leftovers in dir older than the age
// threshold. It only targets names created by our helpers (pocketmod-*),
// so a shared temp dir stays untouched.
func CleanupScratch(dir string, maxAge time.Duration) {
    if dir == "" { dir = os.TempDir() }
    now := time.Now()
    _ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
        if err != nil || info == nil || info.IsDir() { return nil }
        if !strings.HasPrefix(info.Name(), "pocketmod-") {
            return nil
        }
        if now.Sub(info.ModTime()) >= maxAge {
            _ = os.Remove(path)
        }
        return nil
    })
}
