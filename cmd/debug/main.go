package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/sanity-io/litter"
	"github.com/spf13/pflag"

	"github.com/astromechza/collab-ot/pkg/ot"
	"github.com/astromechza/collab-ot/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	flags := pflag.NewFlagSet("collab-debug", pflag.ContinueOnError)
	applyVar := flags.String("apply", "", "a json operation to apply to the file content without saving it")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if flags.NArg() < 1 || flags.NArg() > 2 {
		return fmt.Errorf("expected positional arguments: the database to read and optionally a file id")
	}
	return inspect(context.Background(), os.Stdout, flags.Arg(0), flags.Arg(1), *applyVar)
}

// inspect lists the files of the database at path, or dumps one file when
// fileArg is set. The database is opened read-only.
func inspect(ctx context.Context, w io.Writer, path, fileArg, apply string) error {
	db, err := store.OpenSQLiteReadOnly(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	if fileArg == "" {
		for _, info := range infos {
			fmt.Fprintf(w, "%d\tsize=%d\tcompression=%s\tdigest=%s\tupdated=%s\n",
				info.FileID, info.Size, info.Compression, hex.EncodeToString(info.Digest)[:16], info.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		}
		return nil
	}

	fileID, err := strconv.ParseInt(fileArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file id: %w", err)
	}
	content, err := db.Load(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	for _, info := range infos {
		if info.FileID == fileID {
			fmt.Fprintln(w, litter.Sdump(info))
		}
	}
	fmt.Fprintln(w, litter.Sdump(content))

	if apply != "" {
		var op ot.Operation
		if err := json.Unmarshal([]byte(apply), &op); err != nil {
			return fmt.Errorf("failed to parse operation: %w", err)
		}
		if err := op.Validate(); err != nil {
			return err
		}
		result, err := ot.Apply(content, op)
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", op, err)
		}
		slog.Info("applied", "op", ot.Normalize(op).String(), "base_len", op.BaseLen(), "target_len", op.TargetLen())
		fmt.Fprintln(w, litter.Sdump(result))
	}
	return nil
}
