package display

import "go.uber.org/zap"

// DisplayBuilderOption configures a Display.
type DisplayBuilderOption func(*display)

// WithValidator replaces the WGSL validator run on the sprite shader. Nil disables it.
func WithValidator(validator func(source string) error) DisplayBuilderOption {
	return func(d *display) {
		d.validator = validator
		d.validatorSet = true
	}
}

// WithLogger sets the display's logger.
func WithLogger(logger *zap.Logger) DisplayBuilderOption {
	return func(d *display) {
		d.logger = logger
	}
}
