package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_relay",
        Name:      "connections_active",
        Help:      "Current number of open peer connections per listener",
    }, []string{"listener"})

    ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Name:      "connections_total",
        Help:      "Total number of accepted peer connections per listener",
    }, []string{"listener"})

    FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Name:      "frames_total",
        Help:      "Frames handled by command and direction (in|out)",
    }, []string{"command", "dir"})

    FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Name:      "frames_dropped_total",
        Help:      "Inbound frames dropped before dispatch, by reason",
    }, []string{"reason"})

    FramesStalled = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Name:      "frames_stalled_total",
        Help:      "Frames held in a connection mailbox because the pool queue was full",
    })

    ResyncBytes = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Name:      "resync_bytes_total",
        Help:      "Bytes discarded while searching for a frame boundary",
    })

    // Reliability
    RetransmitRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "seq",
        Name:      "retransmit_requests_total",
        Help:      "Retransmit requests by direction (sent|received)",
    }, []string{"dir"})
    RetransmitFrames = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "seq",
        Name:      "retransmitted_frames_total",
        Help:      "Cached frames written again in answer to retransmit requests",
    })
    RetransmitMissing = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "seq",
        Name:      "retransmit_missing_total",
        Help:      "Requested sequences no longer held by the replay cache",
    })

    // File transfers
    TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "transfer",
        Name:      "total",
        Help:      "Finished file transfers by kind (upload|download) and result",
    }, []string{"kind", "result"})
    TransferBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "transfer",
        Name:      "bytes_total",
        Help:      "File bytes moved by kind (upload|download)",
    }, []string{"kind"})
    TransfersActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_relay",
        Subsystem: "transfer",
        Name:      "active",
        Help:      "Transfers currently in progress by kind",
    }, []string{"kind"})

    // Worker pools
    PoolRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_relay",
        Subsystem: "pool",
        Name:      "running",
        Help:      "Workers currently executing a task",
    }, []string{"pool"})
    PoolWaiting = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_relay",
        Subsystem: "pool",
        Name:      "waiting",
        Help:      "Submitters blocked on a full pool",
    }, []string{"pool"})
    PoolPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "pool",
        Name:      "panics_total",
        Help:      "Tasks that panicked and were recovered",
    }, []string{"pool"})

    // Management gRPC client connection pool
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_relay",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Active cached gRPC client connections",
    })
    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total gRPC client dials",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Dials discarded because a cached connection appeared meanwhile",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_relay",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Idle gRPC client connections closed by the janitor",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ConnectionsActive)
        prometheus.MustRegister(ConnectionsTotal)
        prometheus.MustRegister(FramesTotal)
        prometheus.MustRegister(FramesDropped)
        prometheus.MustRegister(FramesStalled)
        prometheus.MustRegister(ResyncBytes)
        // reliability
        prometheus.MustRegister(RetransmitRequests)
        prometheus.MustRegister(RetransmitFrames)
        prometheus.MustRegister(RetransmitMissing)
        // transfers
        prometheus.MustRegister(TransfersTotal)
        prometheus.MustRegister(TransferBytes)
        prometheus.MustRegister(TransfersActive)
        // pools
        prometheus.MustRegister(PoolRunning)
        prometheus.MustRegister(PoolWaiting)
        prometheus.MustRegister(PoolPanics)
        // grpc client
        prometheus.MustRegister(GRPCConnActive)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
    })
}
