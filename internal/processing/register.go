package processing

import "logtail-agent/internal/eventpipe"

// RegisterNativeProcessors populates reg with every built-in processor
// type this build ships, matching the original's static
// PluginRegistry::LoadStaticPlugins registration list.
func RegisterNativeProcessors(reg *eventpipe.Registry) {
	reg.Register("processor_parse_container_log_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewContainerLogProcessor(c)
	})
	reg.Register("processor_merge_multiline_log_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewMultilineMergeProcessor(c)
	})
	reg.Register("processor_parse_apsara_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewApsaraParseProcessor(c)
	})
	reg.Register("processor_parse_regex_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewRegexParseProcessor(c)
	})
	reg.Register("processor_parse_json_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewJSONParseProcessor(c)
	})
	reg.Register("processor_parse_delimiter_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewDelimiterParseProcessor(c)
	})
	reg.Register("processor_parse_timestamp_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewTimestampParseProcessor(c)
	})
	reg.Register("processor_desensitize_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewDesensitizeProcessor(c)
	})
	reg.Register("processor_filter_regex_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewFilterProcessor(c)
	})
	reg.Register("processor_tag_native", func(c map[string]interface{}) (eventpipe.Processor, error) {
		return NewTaggerProcessor(c)
	})
}
