// Command metrics-gen reads pkg/mstate/session.go's Stats struct tags
// and emits a fixed Prometheus descriptor table into
// pkg/exporter/generated_metrics.go, so a scrape never pays the
// reflection cost pkg/exporter.SessionCollector.addMetrics incurs.
package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log"
	"os"
	"reflect"
	"strings"
	"text/template"
)

const (
	sourcePath   = "pkg/mstate/session.go"
	templatePath = "cmd/metrics-gen/template.tmpl"
	outputPath   = "pkg/exporter/generated_metrics.go"
)

// Metric is one row the template renders: a Prometheus descriptor plus
// the Stats field it reads.
type Metric struct {
	Name      string
	FieldName string
	Help      string
	Type      string // "Counter" or "Gauge"
}

func main() {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, sourcePath, nil, parser.ParseComments)
	if err != nil {
		log.Fatal(err)
	}

	var metrics []Metric
	ast.Inspect(node, func(n ast.Node) bool {
		s, ok := n.(*ast.StructType)
		if !ok {
			return true
		}
		for _, f := range s.Fields.List {
			if f.Tag == nil || len(f.Names) == 0 {
				continue
			}
			tag := reflect.StructTag(strings.Trim(f.Tag.Value, "`"))
			promTag, ok := tag.Lookup("prom")
			if !ok {
				continue
			}
			parts := strings.SplitN(promTag, ",", 3)
			if len(parts) < 2 {
				log.Printf("malformed prom tag on %s: %q", f.Names[0].Name, promTag)
				continue
			}
			m := Metric{FieldName: f.Names[0].Name, Name: parts[0]}
			switch parts[1] {
			case "gauge":
				m.Type = "Gauge"
			default:
				m.Type = "Counter"
			}
			if len(parts) == 3 {
				m.Help = parts[2]
			}
			metrics = append(metrics, m)
		}
		return false
	})

	t, err := template.ParseFiles(templatePath)
	if err != nil {
		log.Fatal(err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, struct{ Metrics []Metric }{Metrics: metrics}); err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Generated %s (%d metrics)\n", outputPath, len(metrics))
}
