package model

// Source kind constants.
const (
	SourceKindVolume    = "volume"
	SourceKindDirectory = "directory"
)

// Source is a named backup target. Sources are loaded from the sources file
// at startup and never mutated afterwards; the scheduler only holds
// references to them.
type Source struct {
	ID        string          `yaml:"id" json:"id" validate:"required,source_id"`
	Kind      string          `yaml:"kind" json:"kind" validate:"required,oneof=volume directory"`
	Path      string          `yaml:"path" json:"path" validate:"required"`
	Schedule  string          `yaml:"schedule" json:"schedule" validate:"required"`
	Retention RetentionPolicy `yaml:"retention" json:"retention"`
	PreHook   string          `yaml:"pre_hook,omitempty" json:"-"`
	PostHook  string          `yaml:"post_hook,omitempty" json:"-"`
}

// RetentionPolicy holds the four optional keep tiers. A nil tier applies no
// deletions.
type RetentionPolicy struct {
	KeepLast *int `yaml:"keep_last,omitempty" json:"keep_last,omitempty" validate:"omitempty,gt=0"`
	Daily    *int `yaml:"daily,omitempty" json:"daily,omitempty" validate:"omitempty,gt=0"`
	Weekly   *int `yaml:"weekly,omitempty" json:"weekly,omitempty" validate:"omitempty,gt=0"`
	Monthly  *int `yaml:"monthly,omitempty" json:"monthly,omitempty" validate:"omitempty,gt=0"`
}

// Empty reports whether no tier is configured.
func (p RetentionPolicy) Empty() bool {
	return p.KeepLast == nil && p.Daily == nil && p.Weekly == nil && p.Monthly == nil
}
