package backup

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/projecteru2/warden/backup"
	cmdcore "github.com/projecteru2/warden/cmd/core"
	"github.com/projecteru2/warden/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Create(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	engine, err := cmdcore.InitEngine(conf)
	if err != nil {
		return err
	}
	obj, err := engine.Backup(ctx, conf.DataDir)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	log.WithFunc("cmd.backup").Infof(ctx, "uploaded %s (%s)", obj.Key, cmdcore.FormatSize(obj.SizeBytes))
	return nil
}

func (h Handler) Restore(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	engine, err := cmdcore.InitEngine(conf)
	if err != nil {
		return err
	}
	if err := engine.Restore(ctx, conf.DataDir); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	log.WithFunc("cmd.restore").Infof(ctx, "data directory ready: %s", conf.DataDir)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	store, err := cmdcore.InitStore(conf)
	if err != nil {
		return err
	}

	objs, err := store.List(ctx, conf.Backup.Prefix)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	dirName := filepath.Base(filepath.Clean(conf.DataDir))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE")
	shown := 0
	for _, obj := range objs {
		if !backup.MatchesDir(obj.Key, dirName) {
			continue
		}
		shown++
		_, _ = fmt.Fprintf(w, "%s\t%s\n", obj.Key, cmdcore.FormatSize(obj.Size))
	}
	w.Flush() //nolint:errcheck,gosec
	if shown == 0 {
		fmt.Println("No backups found.")
	}
	return nil
}

// Jobs polls the daemon's control API for background job records.
func (h Handler) Jobs(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/v1/jobs", conf.APIAddr)
	if len(args) == 1 {
		url += "/" + args[0]
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query daemon at %s: %w", conf.APIAddr, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var env struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("daemon: %s", env.Error)
	}

	var jobs []types.Job
	if len(args) == 1 {
		var job types.Job
		if err := json.Unmarshal(env.Data, &job); err != nil {
			return err
		}
		jobs = []types.Job{job}
	} else if err := json.Unmarshal(env.Data, &jobs); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATE\tKEY\tSIZE\tERROR")
	for _, job := range jobs {
		size := ""
		if job.SizeBytes > 0 {
			size = cmdcore.FormatSize(job.SizeBytes)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Kind, job.State, job.Key, size, job.Error)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Prune(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	engine, err := cmdcore.InitEngine(conf)
	if err != nil {
		return err
	}
	if err := engine.Prune(ctx, conf.DataDir); err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}
