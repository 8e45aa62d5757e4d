// Package audit formats and emits the per-request audit lines.
//
// Audit lines are not log records. They are written verbatim, one per line,
// to the audit writer (standard output in the server binary) so that
// external tooling can parse them. All timestamps are seconds with six
// decimal digits.
//
// Standard format:
//
//	T<w> R<id>:<sent>,<length>,<receipt>,<start>,<completion>   worker completed the job
//	T<w> E<id>:<sent>,<length>,<receipt>,<start>,<completion>   worker rejected the job
//	R<id>:<sent>,<length>,<receipt>,<start>,<completion>        REGISTER handled inline
//	E<id>:<sent>,<length>,<receipt>,<start>,<completion>        REGISTER rejected inline
//	X<id>:<sent>,<length>,<receipt>                             queue full, never admitted
//	Q:[R<id>,R<id>,...]                                         queue contents in serving order
//
// The extended format replaces the length field of R and E lines with
// "<op>,<overwrite>,<client image>,<server image>", the layout used by the
// older analysis scripts.
//
// Lines can also be mirrored to secondary sinks such as MQTT. Mirrors never
// block the writer; see MQTTSink.
package audit
