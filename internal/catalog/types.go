// Package catalog implements the Model Registry (C3): loading, validating,
// overriding, and filtering the catalog of routable models.
package catalog

// ModelType distinguishes fast models from reasoning models.
type ModelType string

const (
	TypeFast      ModelType = "fast"
	TypeReasoning ModelType = "reasoning"
)

// ModelDefinition is the identity of one routable model.
type ModelDefinition struct {
	Name            string    `yaml:"name" json:"name"`
	Provider        string    `yaml:"provider" json:"provider"`
	Model           string    `yaml:"model" json:"model"`
	Type            ModelType `yaml:"type" json:"type"`
	ContextSize     int       `yaml:"context_size" json:"context_size"`
	MaxOutputTokens int       `yaml:"max_output_tokens" json:"max_output_tokens"`
	Tags            []string  `yaml:"tags" json:"tags"`

	JSONResponse   bool `yaml:"json_response" json:"json_response"`
	SupportsImage  bool `yaml:"supports_image" json:"supports_image"`
	SupportsVideo  bool `yaml:"supports_video" json:"supports_video"`
	SupportsAudio  bool `yaml:"supports_audio" json:"supports_audio"`
	SupportsFile   bool `yaml:"supports_file" json:"supports_file"`
	SupportsTools  bool `yaml:"supports_tools" json:"supports_tools"`

	Available bool `yaml:"available" json:"available"`
	Weight    int  `yaml:"weight" json:"weight"`
	Priority  int  `yaml:"priority" json:"priority"`

	// RequestsPerMinute configures the Rate Limiter's per-model token bucket
	// capacity. Zero means unlimited: checkModel always
	// admits.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
}

// Key returns the provider/name compound identity used in the excluded-set
// during a single request's routing.
func (m ModelDefinition) Key() string {
	return m.Provider + "/" + m.Name
}

// ModelOverride patches a catalog entry at load time, matched by Name and
// optionally verified against Provider/Model. Unknown/malformed overrides
// must fail registry init.
type ModelOverride struct {
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`

	Tags            *[]string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	Type            *ModelType `yaml:"type,omitempty" json:"type,omitempty"`
	ContextSize     *int       `yaml:"context_size,omitempty" json:"context_size,omitempty"`
	MaxOutputTokens *int       `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty"`
	JSONResponse    *bool      `yaml:"json_response,omitempty" json:"json_response,omitempty"`
	SupportsImage   *bool      `yaml:"supports_image,omitempty" json:"supports_image,omitempty"`
	SupportsVideo   *bool      `yaml:"supports_video,omitempty" json:"supports_video,omitempty"`
	SupportsAudio   *bool      `yaml:"supports_audio,omitempty" json:"supports_audio,omitempty"`
	SupportsFile    *bool      `yaml:"supports_file,omitempty" json:"supports_file,omitempty"`
	SupportsTools   *bool      `yaml:"supports_tools,omitempty" json:"supports_tools,omitempty"`
	Available         *bool `yaml:"available,omitempty" json:"available,omitempty"`
	Weight            *int  `yaml:"weight,omitempty" json:"weight,omitempty"`
	Priority          *int  `yaml:"priority,omitempty" json:"priority,omitempty"`
	RequestsPerMinute *int  `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
}

// apply returns a copy of def with every non-nil override field applied.
func (o ModelOverride) apply(def ModelDefinition) ModelDefinition {
	if o.Tags != nil {
		def.Tags = *o.Tags
	}
	if o.Type != nil {
		def.Type = *o.Type
	}
	if o.ContextSize != nil {
		def.ContextSize = *o.ContextSize
	}
	if o.MaxOutputTokens != nil {
		def.MaxOutputTokens = *o.MaxOutputTokens
	}
	if o.JSONResponse != nil {
		def.JSONResponse = *o.JSONResponse
	}
	if o.SupportsImage != nil {
		def.SupportsImage = *o.SupportsImage
	}
	if o.SupportsVideo != nil {
		def.SupportsVideo = *o.SupportsVideo
	}
	if o.SupportsAudio != nil {
		def.SupportsAudio = *o.SupportsAudio
	}
	if o.SupportsFile != nil {
		def.SupportsFile = *o.SupportsFile
	}
	if o.SupportsTools != nil {
		def.SupportsTools = *o.SupportsTools
	}
	if o.Available != nil {
		def.Available = *o.Available
	}
	if o.Weight != nil {
		def.Weight = *o.Weight
	}
	if o.Priority != nil {
		def.Priority = *o.Priority
	}
	if o.RequestsPerMinute != nil {
		def.RequestsPerMinute = *o.RequestsPerMinute
	}
	return def
}

// FilterCriteria is the capability filter applied by Registry.Filter, built
// by the selector from a parsed request's routing criteria.
type FilterCriteria struct {
	Tags               []string
	Type               ModelType
	MinContextSize     int
	MinMaxOutputTokens int
	JSONResponse       bool
	SupportsImage      bool
	SupportsVideo      bool
	SupportsAudio      bool
	SupportsFile       bool
	SupportsTools      bool
}
