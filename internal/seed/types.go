package seed

// Topic describes a topic to create at startup, loaded from YAML.
type Topic struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Difficulty  string `yaml:"difficulty"`
	Category    string `yaml:"category"`
	// BaseQuestion and Count drive AI generation when the pool is empty.
	BaseQuestion string `yaml:"base_question"`
	Count        int    `yaml:"count"`
	// Questions are ingested verbatim instead of generating.
	Questions []Question `yaml:"questions"`
}

// Question is a hand-written pool entry.
type Question struct {
	Question       string `yaml:"question"`
	ExpectedAnswer string `yaml:"expected_answer"`
}

// file is the on-disk layout: either a single topic at the top level or a
// list under "topics".
type file struct {
	Topic  `yaml:",inline"`
	Topics []Topic `yaml:"topics"`
}
