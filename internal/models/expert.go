package models

// Expert is a domain expert questions can be escalated to.
// The pair (Channel, UserID) is how an inbound sender is recognised as this expert.
type Expert struct {
	ID      string   `yaml:"id" json:"id" validate:"required"`
	Name    string   `yaml:"name" json:"name"`
	Channel Channel  `yaml:"channel" json:"channel" validate:"required,oneof=web telegram dingtalk"`
	UserID  string   `yaml:"user_id" json:"user_id" validate:"required"`
	Domains []string `yaml:"domains" json:"domains"`
	Default bool     `yaml:"default" json:"default"`
}
