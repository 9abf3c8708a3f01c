package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Templates holds user-facing text and keyword sets. Defaults are
// compiled in; a YAML file can override any subset.
type Templates struct {
	DocTimeoutDisclaimer     string   `yaml:"doc_timeout_disclaimer"`
	GeneralTimeoutDisclaimer string   `yaml:"general_timeout_disclaimer"`
	BackendErrorDisclaimer   string   `yaml:"backend_error_disclaimer"`
	NoSourceFound            string   `yaml:"no_source_found"`
	NotFoundInDocuments      string   `yaml:"not_found_in_documents"`
	TruncationNotice         string   `yaml:"truncation_notice"`
	NonDocPrefix             string   `yaml:"non_doc_prefix"`
	GeneralKnowledgePrefix   string   `yaml:"general_knowledge_prefix"`
	SectionSummary           string   `yaml:"section_summary"`
	SectionKeyFindings       string   `yaml:"section_key_findings"`
	SectionMethods           string   `yaml:"section_methods"`
	SectionRisks             string   `yaml:"section_risks"`
	SectionWebSupplement     string   `yaml:"section_web_supplement"`
	SectionSources           string   `yaml:"section_sources"`
	ChitchatReply            string   `yaml:"chitchat_reply"`
	GuidanceReply            string   `yaml:"guidance_reply"`
	Suggestions              []string `yaml:"suggestions"`
	DocHintKeywords          []string `yaml:"doc_hint_keywords"`
	TimeKeywords             []string `yaml:"time_keywords"`
	MethodKeywords           []string `yaml:"method_keywords"`
	RiskKeywords             []string `yaml:"risk_keywords"`
	GreetingKeywords         []string `yaml:"greeting_keywords"`
	ThanksKeywords           []string `yaml:"thanks_keywords"`
}

func DefaultTemplates() Templates {
	return Templates{
		DocTimeoutDisclaimer:     "很抱歉，基于文档的回答生成超时，请稍后重试或简化问题。",
		GeneralTimeoutDisclaimer: "很抱歉，回答生成超时，请稍后重试。",
		BackendErrorDisclaimer:   "很抱歉，生成服务暂时不可用，请稍后重试。",
		NoSourceFound:            "未检索到可靠来源",
		NotFoundInDocuments:      "未在文档中找到相关内容",
		TruncationNotice:         "问题包含较多主题，本次仅回答前 %d 个（共识别到 %d 个）。",
		NonDocPrefix:             "[非文档知识] ",
		GeneralKnowledgePrefix:   "[常识知识] ",
		SectionSummary:           "摘要速览",
		SectionKeyFindings:       "关键结论",
		SectionMethods:           "方法步骤",
		SectionRisks:             "风险与限制",
		SectionWebSupplement:     "联网补充",
		SectionSources:           "来源",
		ChitchatReply:            "你好！我可以基于已上传的文档回答问题，也可以联网补充最新信息。",
		GuidanceReply:            "请描述一个具体问题，例如“文档中提到的训练方法有哪些？”。",
		Suggestions: []string{
			"文档的核心结论是什么？",
			"文中提到的方法步骤有哪些？",
			"有哪些需要注意的风险或限制？",
		},
		DocHintKeywords: []string{
			"文档", "文件", "资料", "附件", "报告", "论文", "手册",
			"document", "file", "report", "paper", "attachment",
		},
		TimeKeywords: []string{
			"最新", "今天", "今年", "现在", "近期", "当前",
			"latest", "today", "current", "recent", "now", "2025", "2026",
		},
		MethodKeywords: []string{
			"方法", "步骤", "练习", "操作", "实施", "训练", "采用", "策略", "疗法",
		},
		RiskKeywords: []string{
			"风险", "注意", "限制", "避免", "警告", "不足", "不建议",
		},
		GreetingKeywords: []string{
			"你好", "您好", "hi", "hello", "嗨", "在吗",
		},
		ThanksKeywords: []string{
			"谢谢", "感谢", "thanks", "thank you", "辛苦了",
		},
	}
}

// LoadTemplates reads overrides from path on top of the defaults. An
// empty path returns the defaults unchanged.
func LoadTemplates(path string) (Templates, error) {
	out := DefaultTemplates()
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read templates file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse templates yaml: %w", err)
	}
	return out, nil
}
