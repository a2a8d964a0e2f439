// Package otlp decodes OTLP ExportTraceServiceRequest payloads into internal
// span records.
//
// Two encodings are supported. Protobuf bodies unmarshal through the
// canonical OTLP protos. JSON bodies go through a lenient hand-rolled
// decoder, because real exporters disagree on the JSON shape: ids arrive as
// hex or base64, timestamps as nanoseconds, milliseconds, ISO-8601 strings,
// or [seconds, nanos] pairs, and integers as numbers or strings. Both paths
// normalise to the same internal form: lowercase-hex ids, epoch-millisecond
// times, flattened attribute values.
package otlp
