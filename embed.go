package ragatouille

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat widget and the evaluation
// dashboard. These templates are organized in a directory structure that separates layouts, pages, and
// partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the stylesheet and the small scripts that drive the
// keyboard handling of the chat input and the dashboard chart.
//
//go:embed static/*
var StaticFS embed.FS
