package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	persistlog "placecraft/internal/persistence/log"
	"placecraft/internal/persistence/snapshot"
	"placecraft/internal/sim/catalogs"
	"placecraft/internal/sim/tuning"
	"placecraft/internal/sim/world"
	"placecraft/internal/transport/token"
	"placecraft/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	// Tuning is required for a fresh world; a resume tolerates a missing file.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional: read-model index backend (never consulted by the authority).
	idx, err := openRuntimeIndex(worldDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	redisMirror, err := buildRedisMirror(*worldID, logger)
	if err != nil {
		logger.Fatalf("init redis mirror: %v", err)
	}
	defer redisMirror.Close()

	// Resume tokens survive restarts via a per-world secret file.
	secret, err := token.LoadOrCreateSecret(filepath.Join(worldDir, "secret.key"))
	if err != nil {
		logger.Fatalf("token secret: %v", err)
	}
	tokens, err := token.NewHMACCodec(secret, 0)
	if err != nil {
		logger.Fatalf("token codec: %v", err)
	}

	w, err := world.New(world.WorldConfig{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		BoundsMin:          tune.BoundsMin,
		BoundsMax:          tune.BoundsMax,
		GroundNormalMinDot: tune.GroundNormalMinDot,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		ConfirmTimeoutMs:   tune.ConfirmTimeoutMs,
		MaxObjectsPerOwner: tune.MaxObjectsPerOwner,
	}, cats, tokens, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	auditLog := persistlog.NewAuditLogger(worldDir)
	defer auditLog.Close()
	w.SetAuditLogger(multiAuditLogger{auditLog, idx, redisMirror})

	creditLog := persistlog.NewCreditLogger(worldDir)
	defer creditLog.Close()
	w.SetCrediter(multiCrediter{creditLog, idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.HandleFunc("/metrics", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP placecraft_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE placecraft_world_tick gauge\n")
		fmt.Fprintf(rw, "placecraft_world_tick{world=%q} %d\n", *worldID, m.Tick)

		fmt.Fprintf(rw, "# HELP placecraft_world_actors Known actors, connected or not.\n")
		fmt.Fprintf(rw, "# TYPE placecraft_world_actors gauge\n")
		fmt.Fprintf(rw, "placecraft_world_actors{world=%q} %d\n", *worldID, m.Actors)

		fmt.Fprintf(rw, "# HELP placecraft_world_clients Currently connected clients.\n")
		fmt.Fprintf(rw, "# TYPE placecraft_world_clients gauge\n")
		fmt.Fprintf(rw, "placecraft_world_clients{world=%q} %d\n", *worldID, m.Clients)

		fmt.Fprintf(rw, "# HELP placecraft_world_objects Placed objects currently in the world.\n")
		fmt.Fprintf(rw, "# TYPE placecraft_world_objects gauge\n")
		fmt.Fprintf(rw, "placecraft_world_objects{world=%q} %d\n", *worldID, m.Objects)

		fmt.Fprintf(rw, "# HELP placecraft_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE placecraft_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "placecraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "placecraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "placecraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "attach", m.QueueDepths.Attach)
		fmt.Fprintf(rw, "placecraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "leave", m.QueueDepths.Leave)

		writeRedisMirrorMetrics(rw, redisMirror)
	})

	enableAdminHTTP := envBool("PC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("PC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		admin := r.PathPrefix("/admin/v1").Subrouter()
		admin.Use(loopbackOnly)
		admin.HandleFunc("/state", func(rw http.ResponseWriter, req *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: *worldID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		admin.HandleFunc("/snapshot", func(rw http.ResponseWriter, req *http.Request) {
			ctx2, cancel2 := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel2()
			tick, err := w.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		}).Methods(http.MethodPost)
		admin.HandleFunc("/placements", func(rw http.ResponseWriter, req *http.Request) {
			owner := strings.TrimSpace(req.URL.Query().Get("owner"))
			if owner == "" {
				http.Error(rw, "missing owner", http.StatusBadRequest)
				return
			}
			if idx == nil {
				http.Error(rw, "index backend disabled", http.StatusServiceUnavailable)
				return
			}
			ids, err := idx.PlacedItemsOf(req.Context(), owner)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"owner": owner, "instance_ids": ids})
		})
	} else {
		logger.Printf("admin endpoints disabled (PC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	r.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s listening on %s", *worldID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if !isLoopbackRemote(req.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeRedisMirrorMetrics(rw http.ResponseWriter, mirror *redisMirror) {
	s := mirror.Stats()
	if !s.Enabled {
		return
	}
	fmt.Fprintf(rw, "# HELP placecraft_redis_mirror_published_total Total audit entries published to redis.\n")
	fmt.Fprintf(rw, "# TYPE placecraft_redis_mirror_published_total counter\n")
	fmt.Fprintf(rw, "placecraft_redis_mirror_published_total %d\n", s.PublishedTotal)

	fmt.Fprintf(rw, "# HELP placecraft_redis_mirror_publish_fail_total Total failed redis publishes.\n")
	fmt.Fprintf(rw, "# TYPE placecraft_redis_mirror_publish_fail_total counter\n")
	fmt.Fprintf(rw, "placecraft_redis_mirror_publish_fail_total %d\n", s.PublishFailTotal)

	fmt.Fprintf(rw, "# HELP placecraft_redis_mirror_last_error_unix Unix timestamp of last failed publish.\n")
	fmt.Fprintf(rw, "# TYPE placecraft_redis_mirror_last_error_unix gauge\n")
	fmt.Fprintf(rw, "placecraft_redis_mirror_last_error_unix %d\n", s.LastErrorUnix)
}

// multiAuditLogger fans one audit entry out to every configured sink.
type multiAuditLogger []world.AuditLogger

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteAudit(entry)
		}
	}
	return nil
}

type multiCrediter []world.InventoryCrediter

func (m multiCrediter) Credit(ownerID, templateID string, qty int) {
	for _, c := range m {
		if c != nil {
			c.Credit(ownerID, templateID, qty)
		}
	}
}
