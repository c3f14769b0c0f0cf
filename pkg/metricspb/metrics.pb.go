// Package metricspb defines the wire messages for the Metrics RPC service
// coordinator-to-querier MetricsQueryRequest/Response, and
// the ingester-side RemoteScan request/result. Messages carry
// gogo/protobuf struct tags plus the Reset/String/ProtoMessage trio
// gogo's reflection-based codec needs; hand-authored rather than
// protoc-generated, the wire-format contract is unchanged.
package metricspb

import "fmt"

// Job identifies one sub-request within a distributed search, propagated
// back unchanged on the response so the coordinator can match it to its
// fan-out bookkeeping.
type Job struct {
	TraceId   string `protobuf:"bytes,1,opt,name=trace_id,json=traceId,proto3" json:"trace_id,omitempty"`
	Partition int32  `protobuf:"varint,2,opt,name=partition,proto3" json:"partition,omitempty"`
	Stage     int32  `protobuf:"varint,3,opt,name=stage,proto3" json:"stage,omitempty"`
}

func (m *Job) Reset()         { *m = Job{} }
func (m *Job) String() string { return fmt.Sprintf("%+v", *m) }
func (*Job) ProtoMessage()    {}

// QueryParams carries the PromQL query text and evaluation window.
type QueryParams struct {
	QueryText      string  `protobuf:"bytes,1,opt,name=query_text,json=queryText,proto3" json:"query_text,omitempty"`
	Start          int64   `protobuf:"varint,2,opt,name=start,proto3" json:"start,omitempty"`
	End            int64   `protobuf:"varint,3,opt,name=end,proto3" json:"end,omitempty"`
	Step           int64   `protobuf:"varint,4,opt,name=step,proto3" json:"step,omitempty"`
	QueryExemplars bool    `protobuf:"varint,5,opt,name=query_exemplars,json=queryExemplars,proto3" json:"query_exemplars,omitempty"`
	SamplingRatio  float64 `protobuf:"fixed64,6,opt,name=sampling_ratio,json=samplingRatio,proto3" json:"sampling_ratio,omitempty"`
}

func (m *QueryParams) Reset()         { *m = QueryParams{} }
func (m *QueryParams) String() string { return fmt.Sprintf("%+v", *m) }
func (*QueryParams) ProtoMessage()    {}

// MetricsQueryRequest is one querier's sub-range assignment.
type MetricsQueryRequest struct {
	Job            *Job         `protobuf:"bytes,1,opt,name=job,proto3" json:"job,omitempty"`
	OrgId          string       `protobuf:"bytes,2,opt,name=org_id,json=orgId,proto3" json:"org_id,omitempty"`
	Query          *QueryParams `protobuf:"bytes,3,opt,name=query,proto3" json:"query,omitempty"`
	NeedWal        bool         `protobuf:"varint,4,opt,name=need_wal,json=needWal,proto3" json:"need_wal,omitempty"`
	TimeoutSeconds int64        `protobuf:"varint,5,opt,name=timeout_seconds,json=timeoutSeconds,proto3" json:"timeout_seconds,omitempty"`
	UseCache       bool         `protobuf:"varint,6,opt,name=use_cache,json=useCache,proto3" json:"use_cache,omitempty"`
	IsSuperCluster bool         `protobuf:"varint,7,opt,name=is_super_cluster,json=isSuperCluster,proto3" json:"is_super_cluster,omitempty"`
}

func (m *MetricsQueryRequest) Reset()         { *m = MetricsQueryRequest{} }
func (m *MetricsQueryRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*MetricsQueryRequest) ProtoMessage()    {}

// Label is one name/value pair of a series' label set.
type Label struct {
	Name  string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Value string `protobuf:"bytes,2,opt,name=value,proto3" json:"value,omitempty"`
}

func (m *Label) Reset()         { *m = Label{} }
func (m *Label) String() string { return fmt.Sprintf("%+v", *m) }
func (*Label) ProtoMessage()    {}

// Sample is one (timestamp, value) observation, microsecond timestamps.
type Sample struct {
	Timestamp int64   `protobuf:"varint,1,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Value     float64 `protobuf:"fixed64,2,opt,name=value,proto3" json:"value,omitempty"`
}

func (m *Sample) Reset()         { *m = Sample{} }
func (m *Sample) String() string { return fmt.Sprintf("%+v", *m) }
func (*Sample) ProtoMessage()    {}

// Exemplar attaches a trace/span pointer to a sample.
type Exemplar struct {
	Sample *Sample  `protobuf:"bytes,1,opt,name=sample,proto3" json:"sample,omitempty"`
	Labels []*Label `protobuf:"bytes,2,rep,name=labels,proto3" json:"labels,omitempty"`
}

func (m *Exemplar) Reset()         { *m = Exemplar{} }
func (m *Exemplar) String() string { return fmt.Sprintf("%+v", *m) }
func (*Exemplar) ProtoMessage()    {}

// SeriesResult is one series in a response, shaped to carry any of the
// result value variants: only the fields matching the
// response's result_type are populated.
type SeriesResult struct {
	Metric        []*Label    `protobuf:"bytes,1,rep,name=metric,proto3" json:"metric,omitempty"`
	Sample        *Sample     `protobuf:"bytes,2,opt,name=sample,proto3" json:"sample,omitempty"`
	Samples       []*Sample   `protobuf:"bytes,3,rep,name=samples,proto3" json:"samples,omitempty"`
	Exemplars     []*Exemplar `protobuf:"bytes,4,rep,name=exemplars,proto3" json:"exemplars,omitempty"`
	Scalar        *Sample     `protobuf:"bytes,5,opt,name=scalar,proto3" json:"scalar,omitempty"`
	Stringliteral string      `protobuf:"bytes,6,opt,name=stringliteral,proto3" json:"stringliteral,omitempty"`
}

func (m *SeriesResult) Reset()         { *m = SeriesResult{} }
func (m *SeriesResult) String() string { return fmt.Sprintf("%+v", *m) }
func (*SeriesResult) ProtoMessage()    {}

// ScanStats reports what the worker's scan sessions touched, surfaced on
// the response for the coordinator's took_detail aggregation.
type ScanStats struct {
	FileCount         int64 `protobuf:"varint,1,opt,name=file_count,json=fileCount,proto3" json:"file_count,omitempty"`
	OriginalSizeMb    float64 `protobuf:"fixed64,2,opt,name=original_size_mb,json=originalSizeMb,proto3" json:"original_size_mb,omitempty"`
	CompressedSizeMb  float64 `protobuf:"fixed64,3,opt,name=compressed_size_mb,json=compressedSizeMb,proto3" json:"compressed_size_mb,omitempty"`
	MemoryCached      int64 `protobuf:"varint,4,opt,name=memory_cached,json=memoryCached,proto3" json:"memory_cached,omitempty"`
	DiskCached        int64 `protobuf:"varint,5,opt,name=disk_cached,json=diskCached,proto3" json:"disk_cached,omitempty"`
	Downloaded        int64 `protobuf:"varint,6,opt,name=downloaded,proto3" json:"downloaded,omitempty"`
	IdxTookMs         int64 `protobuf:"varint,7,opt,name=idx_took_ms,json=idxTookMs,proto3" json:"idx_took_ms,omitempty"`
	WalFilesScanned   int64 `protobuf:"varint,8,opt,name=wal_files_scanned,json=walFilesScanned,proto3" json:"wal_files_scanned,omitempty"`
}

func (m *ScanStats) Reset()         { *m = ScanStats{} }
func (m *ScanStats) String() string { return fmt.Sprintf("%+v", *m) }
func (*ScanStats) ProtoMessage()    {}

// MetricsQueryResponse is one querier's partial result for its assigned
// sub-range.
type MetricsQueryResponse struct {
	Job        *Job            `protobuf:"bytes,1,opt,name=job,proto3" json:"job,omitempty"`
	TookMs     int64           `protobuf:"varint,2,opt,name=took_ms,json=tookMs,proto3" json:"took_ms,omitempty"`
	ResultType string          `protobuf:"bytes,3,opt,name=result_type,json=resultType,proto3" json:"result_type,omitempty"`
	Series     []*SeriesResult `protobuf:"bytes,4,rep,name=series,proto3" json:"series,omitempty"`
	ScanStats  *ScanStats      `protobuf:"bytes,5,opt,name=scan_stats,json=scanStats,proto3" json:"scan_stats,omitempty"`
	// ErrorCode/ErrorMessage round-trip a worker's queryerr.Code verbatim,
	// so upstream sees the worker's code, not a wrapped one.
	ErrorCode    string `protobuf:"bytes,6,opt,name=error_code,json=errorCode,proto3" json:"error_code,omitempty"`
	ErrorMessage string `protobuf:"bytes,7,opt,name=error_message,json=errorMessage,proto3" json:"error_message,omitempty"`
}

func (m *MetricsQueryResponse) Reset()         { *m = MetricsQueryResponse{} }
func (m *MetricsQueryResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*MetricsQueryResponse) ProtoMessage()    {}

// RemoteScanRequest is the querier-to-ingester WAL scan request (see
// §4.4), the flight-style RPC's wire counterpart to walscanner.RemoteScanRequest.
type RemoteScanRequest struct {
	TraceId       string   `protobuf:"bytes,1,opt,name=trace_id,json=traceId,proto3" json:"trace_id,omitempty"`
	OrgId         string   `protobuf:"bytes,2,opt,name=org_id,json=orgId,proto3" json:"org_id,omitempty"`
	Stream        string   `protobuf:"bytes,3,opt,name=stream,proto3" json:"stream,omitempty"`
	Start         int64    `protobuf:"varint,4,opt,name=start,proto3" json:"start,omitempty"`
	End           int64    `protobuf:"varint,5,opt,name=end,proto3" json:"end,omitempty"`
	MatchersJson  string   `protobuf:"bytes,6,opt,name=matchers_json,json=matchersJson,proto3" json:"matchers_json,omitempty"`
	LabelSelector []string `protobuf:"bytes,7,rep,name=label_selector,json=labelSelector,proto3" json:"label_selector,omitempty"`
}

func (m *RemoteScanRequest) Reset()         { *m = RemoteScanRequest{} }
func (m *RemoteScanRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*RemoteScanRequest) ProtoMessage()    {}

// RemoteScanResponse is one ingester node's batch of not-yet-flushed
// samples for the requested window.
type RemoteScanResponse struct {
	Series       []*SeriesResult `protobuf:"bytes,1,rep,name=series,proto3" json:"series,omitempty"`
	FilesScanned int64           `protobuf:"varint,2,opt,name=files_scanned,json=filesScanned,proto3" json:"files_scanned,omitempty"`
}

func (m *RemoteScanResponse) Reset()         { *m = RemoteScanResponse{} }
func (m *RemoteScanResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*RemoteScanResponse) ProtoMessage()    {}
