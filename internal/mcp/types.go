package mcp

type UploadInput struct {
	Paragraph string `json:"paragraph"`
}

type UploadOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type QueryInput struct {
	Prompt string `json:"prompt"`
	TopK   int    `json:"top_k,omitempty"`
}

type QueryMatch struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
	Source string  `json:"source,omitempty"`
}

type QueryOutput struct {
	Namespace string       `json:"namespace"`
	Matches   []QueryMatch `json:"matches"`
}

type ContributionInput struct {
	Paper        string   `json:"paper"`
	FragmentList []string `json:"fragmentList"`
}

type ContributionOutput struct {
	Contributions map[string]float64 `json:"contributions"`
}
