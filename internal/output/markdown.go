package output

import (
	"fmt"
	"strings"

	"github.com/dshills/prreview/internal/review"
)

// NoIssuesMessage is the whole report when there are no findings.
const NoIssuesMessage = "✅ **Analiz Tamamlandı: Herhangi bir kritik sorun veya öneri bulunamadı!**"

// criticalThreshold splits the report: findings above it are critical.
const criticalThreshold = 0.9

// FormatFindings renders merged findings as the PR analysis report. Input
// order is preserved inside each section.
func FormatFindings(findings []review.Finding) string {
	if len(findings) == 0 {
		return NoIssuesMessage
	}

	var critical, suggestions []review.Finding
	for _, f := range findings {
		if f.Confidence > criticalThreshold {
			critical = append(critical, f)
		} else {
			suggestions = append(suggestions, f)
		}
	}

	var b strings.Builder
	b.WriteString("### 🤖 Pull Request Analiz Raporu\n\n")

	if len(critical) > 0 {
		b.WriteString("## 🚨 Kritik Hatalar (%95 Güven)\n")
		b.WriteString("Bu bulgular, kodun çalışmasını engelleyebilecek veya ciddi güvenlik açıkları oluşturabilecek yüksek öncelikli sorunlardır.\n\n")
		for _, f := range critical {
			writeFindingBlock(&b, f)
		}
		b.WriteString("\n---\n")
	}

	if len(suggestions) > 0 {
		b.WriteString("## 💡 İyileştirme Önerileri (%70 Güven)\n")
		b.WriteString("Bu bulgular, 'Clean Code' prensipleri, okunabilirlik ve en iyi pratikler ile ilgili önerilerdir. Kodun kalitesini ve sürdürülebilirliğini artırır.\n\n")
		for _, f := range suggestions {
			writeFindingBlock(&b, f)
		}
	}

	return b.String()
}

func writeFindingBlock(b *strings.Builder, f review.Finding) {
	fmt.Fprintf(b, "\n**Satır %d:**\n**%s**\n```\n%s\n```\n", f.Line, f.Severity.Label(), f.Message)
}
