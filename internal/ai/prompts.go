package ai

import (
	"strings"

	"github.com/estudemais/estude-mais/internal/models"
)

// System instructions and prompts fix the output language and tone.

const tutorSystemInstruction = "Você é um tutor especialista. Analise os documentos fornecidos (se houver) e responda às perguntas do usuário de forma clara, didática e concisa. Se não houver documentos, responda com base no seu conhecimento. Formatação: Use Markdown. Responda sempre em Português do Brasil."

const flashcardsSystemInstruction = "Você é um tutor especialista projetado para criar materiais de estudo. Retorne apenas JSON válido."

const flashcardsPrompt = "Analise os documentos anexados e gere 10 flashcards de alta qualidade (pares de pergunta e resposta) para estudar este material. Foque em conceitos chave, definições e detalhes importantes. Responda em Português do Brasil."

const edictSystemInstruction = "Você é um especialista em concursos públicos. Analise o edital com precisão e retorne um resumo formatado em Markdown rico (use tabelas para datas e cargos se possível)."

const edictPrompt = "Analise este edital de concurso e extraia as seguintes informações em formato Markdown claro e estruturado:\n1. Banca Organizadora\n2. Datas Importantes (Inscrição, Prova, etc)\n3. Cargos, Vagas e Salários\n4. Resumo das Etapas do Concurso\n5. Lista de Matérias/Conteúdo Programático para estudar (Agrupado por disciplina). Se houver muitos cargos, foque no geral ou nos principais."

// AnalysisFallback stands in when the notice analysis comes back empty.
const AnalysisFallback = "Não foi possível gerar a análise."

// renderPrompt assembles the single text part: transcript of prior turns
// followed by the new question.
func renderPrompt(question string, history []models.Message) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Histórico da conversa:\n")
		for _, msg := range history {
			label := "Modelo"
			if msg.Role == models.RoleUser {
				label = "Usuário"
			}
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(msg.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Pergunta atual do usuário: ")
	b.WriteString(question)
	return b.String()
}
