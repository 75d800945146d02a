/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics wraps the API server's handler so that request counts and durations are
// published as Prometheus metrics on the socket's /metrics path.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HandlerWrapperBuilder contains the data and logic needed to build a metrics handler wrapper
// producing these series:
//
//	<subsystem>_request_count           - Number of API requests received.
//	<subsystem>_request_duration_sum    - Total time to serve API requests, in seconds.
//	<subsystem>_request_duration_count  - Total number of API requests measured.
//	<subsystem>_request_duration_bucket - Number of API requests organized in buckets.
//
// Each series carries `method`, `path` and `code` labels. To keep the cardinality bounded the
// label values come from the paths registered with AddPath: a request path that matches a
// registered path, or a leading part of one, is labelled with it; anything else is accumulated
// under "/-", and path variables are replaced by "-".
//
// Don't create instances of this directly, use the NewHandlerWrapper function instead.
type HandlerWrapperBuilder struct {
	paths      []string
	subsystem  string
	registerer prometheus.Registerer
}

// handlerWrapper holds the metric vectors shared by all wrapped handlers.
type handlerWrapper struct {
	paths           pathTree
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// pathTree is the tree of known URL paths; a "-" entry matches any segment.
type pathTree map[string]pathTree

// NewHandlerWrapper creates a builder that can then be used to configure and create a metrics
// handler wrapper.
func NewHandlerWrapper() *HandlerWrapperBuilder {
	return &HandlerWrapperBuilder{
		registerer: prometheus.DefaultRegisterer,
	}
}

// AddPath adds a path that will be accepted as a value for the `path` label. Paths not
// explicitly added have their metrics accumulated under "/-". Segments spelled "-" match any
// value, so "/report/-" covers every report tool.
func (b *HandlerWrapperBuilder) AddPath(value string) *HandlerWrapperBuilder {
	b.paths = append(b.paths, value)
	return b
}

// AddPaths adds a list of paths that will be accepted as values for the `path` label.
func (b *HandlerWrapperBuilder) AddPaths(values ...string) *HandlerWrapperBuilder {
	b.paths = append(b.paths, values...)
	return b
}

// SetSubsystem sets the subsystem prefix of the metric names. This is mandatory.
func (b *HandlerWrapperBuilder) SetSubsystem(value string) *HandlerWrapperBuilder {
	b.subsystem = value
	return b
}

// SetRegisterer sets the Prometheus registerer that will be used to register the metrics. The
// default is the default Prometheus registerer; unit tests pass their own so they don't
// interfere with each other.
func (b *HandlerWrapperBuilder) SetRegisterer(value prometheus.Registerer) *HandlerWrapperBuilder {
	if value == nil {
		value = prometheus.DefaultRegisterer
	}
	b.registerer = value
	return b
}

// Build uses the data stored in the builder to create a new handler wrapper.
func (b *HandlerWrapperBuilder) Build() (result func(http.Handler) http.Handler, err error) {
	// Check parameters:
	if b.subsystem == "" {
		err = errors.New("subsystem is mandatory")
		return
	}

	// Build the path tree:
	paths := pathTree{}
	for _, path := range b.paths {
		paths.add(path)
	}

	// Register the metrics:
	requestCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: b.subsystem,
			Name:      "request_count",
			Help:      "Number of requests received.",
		},
		[]string{"method", "path", "code"},
	)
	err = b.registerer.Register(requestCount)
	if err != nil {
		return
	}
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: b.subsystem,
			Name:      "request_duration",
			Help:      "Time to serve requests, in seconds.",
			Buckets:   []float64{0.1, 1.0, 10.0, 30.0},
		},
		[]string{"method", "path", "code"},
	)
	err = b.registerer.Register(requestDuration)
	if err != nil {
		return
	}

	wrapper := &handlerWrapper{
		paths:           paths,
		requestCount:    requestCount,
		requestDuration: requestDuration,
	}
	result = wrapper.wrap
	return
}

func (w *handlerWrapper) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorder := &responseRecorder{writer: writer, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, request)
		elapsed := time.Since(start)
		labels := prometheus.Labels{
			"method": strings.ToUpper(request.Method),
			"path":   w.pathLabel(request.URL.Path),
			"code":   strconv.Itoa(recorder.code),
		}
		w.requestCount.With(labels).Inc()
		w.requestDuration.With(labels).Observe(elapsed.Seconds())
	})
}

// pathLabel reduces a request path to one of the registered label values.
func (w *handlerWrapper) pathLabel(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	current := w.paths
	for i, segment := range segments {
		next, ok := current[segment]
		if ok {
			current = next
			continue
		}
		next, ok = current["-"]
		if ok {
			segments[i] = "-"
			current = next
			continue
		}
		return "/-"
	}
	return "/" + strings.Join(segments, "/")
}

// add adds one path to the tree.
func (t pathTree) add(path string) {
	path = strings.Trim(path, "/")
	if path == "" {
		return
	}
	segments := strings.Split(path, "/")
	current := t
	for _, segment := range segments {
		next := current[segment]
		if next == nil {
			next = pathTree{}
			current[segment] = next
		}
		current = next
	}
}

// responseRecorder captures the response code for the labels.
type responseRecorder struct {
	writer http.ResponseWriter
	code   int
}

func (r *responseRecorder) Header() http.Header {
	return r.writer.Header()
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	return r.writer.Write(data)
}

func (r *responseRecorder) WriteHeader(code int) {
	r.code = code
	r.writer.WriteHeader(code)
}
