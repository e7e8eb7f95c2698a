package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/garnizeh/jobpipe/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	in := flag.String("in", "", "backup file (default <database>.bak)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	dst := cfg.Database.Path
	src := *in
	if src == "" {
		src = dst + ".bak"
	}

	if err := restore(src, dst); err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database %s restored from %s.\n", dst, src)
}

// restore replaces dst with src. Stop the server first; stale -wal and -shm
// files would otherwise be replayed over the restored copy.
func restore(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
