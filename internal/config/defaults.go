package config

import (
	"github.com/spf13/viper"
)

// defaults are the built-in values of every key.
var defaults = map[string]any{
	"work_dir":                                 "./work",
	"concurrency.max_agents":                   4,
	"concurrency.batch_size":                   10,
	"timeouts.agent":                           "1h",
	"timeouts.workflow":                        "2h",
	"timeouts.external_call":                   "2m",
	"retry.max_attempts":                       3,
	"retry.initial_interval":                   "500ms",
	"retry.max_interval":                       "10s",
	"retry.multiplier":                         2.0,
	"storage.backend":                          "local",
	"storage.bucket":                           "",
	"storage.prefix":                           "",
	"storage.region":                           "",
	"storage.profile":                          "",
	"llm.provider":                             "anthropic",
	"llm.model":                                "",
	"llm.max_tokens":                           4096,
	"llm.api_key":                              "",
	"llm.aws_region":                           "",
	"llm.aws_profile":                          "",
	"llm.ollama_host":                          "",
	"llm.cli_binary":                           "claude",
	"embedding.model":                          "nomic-embed-text",
	"embedding.host":                           "",
	"ledger.path":                              "~/.deepagent/ledger.db",
	"sampling.commits_per_user":                20,
	"sampling.target_user_commits":             100,
	"sampling.max_users":                       0,
	"agents.commit_evaluator.parse_policy":     "fail",
	"agents.user_skill_profiler.parse_policy":  "degrade",
	"agents.security_analyst.parse_policy":     "degrade",
	"agents.performance_analyst.parse_policy":  "degrade",
	"agents.quality_analyst.parse_policy":      "degrade",
	"agents.architecture_analyst.parse_policy": "degrade",
	"agents.report_summarizer.parse_policy":    "degrade",
	"analysis.tools":                           []any{},
	"analysis.max_file_bytes":                  1 << 20,
	"rag.chunk_lines":                          40,
	"rag.collection":                           "code",
	"report.diff_bytes":                        12000,
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// The defaults table is static; a decode failure is a programming error
		panic(err)
	}
	return cfg
}
