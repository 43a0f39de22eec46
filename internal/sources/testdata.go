package sources

import (
	"context"

	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

// sampleCorpus is a small bilingual corpus for demos and for seeding an
// otherwise empty index.
var sampleCorpus = []struct{ title, content string }{
	{"RAGシステム概要", "これはRAGシステムのテスト文書です。自然言語処理と機械学習を活用したシステムについて説明しています。"},
	{"プロジェクト管理のベストプラクティス", "プロジェクト管理においては、進捗の可視化とチームコミュニケーションが重要です。定期的な振り返りとフィードバックが成功の鍵となります。"},
	{"AI技術の現状と未来", "AI技術の発展により、自然言語での質問応答システムが実用化されています。検索拡張生成（RAG）は特に注目される技術です。"},
	{"効果的なチーム運営", "チーム運営では、メンバーの強みを活かし、効果的なコミュニケーションを維持することが重要です。定期的な1on1ミーティングも有効です。"},
	{"会議運営の改善方法", "会議の効率化には、事前のアジェンダ設定と時間管理が欠かせません。議事録の共有も重要な要素です。"},
	{"RAG overview", "Retrieval-augmented generation grounds a language model's answers in documents fetched from a search index at question time."},
	{"Onboarding checklist", "New team members get repository access, a buddy for the first two weeks and a weekly 1on1 with their lead."},
	{"Incident review template", "Every incident review records the timeline, the customer impact, the root cause and the follow-up actions with owners."},
}

// TestData serves the built-in sample corpus.
type TestData struct{}

// NewTestData returns the sample corpus source.
func NewTestData() *TestData { return &TestData{} }

// Name implements DocumentSource.
func (TestData) Name() string { return "testdata" }

// Origin implements DocumentSource.
func (TestData) Origin() string { return docstore.SourceTestData }

// FetchAll implements DocumentSource.
func (TestData) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]docstore.Record, 0, len(sampleCorpus))
	for _, doc := range sampleCorpus {
		records = append(records, docstore.Record{
			Content: doc.content,
			Source:  docstore.SourceTestData,
			Title:   doc.title,
			Type:    "document",
		})
	}
	return records, nil
}
