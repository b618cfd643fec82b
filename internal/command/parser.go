// Package command maps chat text to watchlist and quote operations.
package command

import (
	"strings"
	"unicode"

	"line-stock-bot/internal/quote"
)

type Kind int

const (
	KindHelp Kind = iota
	KindTrack
	KindUntrack
	KindList
	KindQuoteAll
	KindQuoteOne
)

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindUntrack:
		return "untrack"
	case KindList:
		return "list"
	case KindQuoteAll:
		return "quote_all"
	case KindQuoteOne:
		return "quote_one"
	default:
		return "help"
	}
}

type Command struct {
	Kind   Kind
	Ticker string
}

type keyword struct {
	word string
	kind Kind
}

// Ordered so that a keyword is tried before any shorter keyword it contains
// (取消追蹤 before 追蹤, untrack before track).
var keywords = []keyword{
	{"取消追蹤", KindUntrack},
	{"untrack", KindUntrack},
	{"remove", KindUntrack},
	{"刪除", KindUntrack},
	{"追蹤", KindTrack},
	{"新增", KindTrack},
	{"track", KindTrack},
	{"add", KindTrack},
	{"清單", KindList},
	{"list", KindList},
	{"股價", KindQuoteAll},
	{"price", KindQuoteAll},
	{"quote", KindQuoteAll},
	{"說明", KindHelp},
	{"help", KindHelp},
}

// Parse classifies one line of input. Anything unrecognized is help.
func Parse(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{Kind: KindHelp}
	}
	if isBareCode(text) {
		return Command{Kind: KindQuoteOne, Ticker: text}
	}
	for _, kw := range keywords {
		rest, ok := cutKeyword(text, kw.word)
		if !ok {
			continue
		}
		// 追蹤清單 reads as the list command, not Track("清單").
		if startsWithKeyword(rest) {
			return Parse(rest)
		}
		switch kw.kind {
		case KindQuoteAll:
			if rest != "" {
				return Command{Kind: KindQuoteOne, Ticker: rest}
			}
			return Command{Kind: KindQuoteAll}
		case KindTrack, KindUntrack:
			return Command{Kind: kw.kind, Ticker: rest}
		default:
			return Command{Kind: kw.kind}
		}
	}
	return Command{Kind: KindHelp}
}

// cutKeyword strips a leading keyword. ASCII keywords are case-insensitive
// and need a whitespace boundary; CJK keywords may run into the argument.
func cutKeyword(text, word string) (string, bool) {
	if len(text) < len(word) {
		return "", false
	}
	head := text[:len(word)]
	if isASCII(word) {
		if !strings.EqualFold(head, word) {
			return "", false
		}
		rest := text[len(word):]
		if rest != "" && !unicode.IsSpace([]rune(rest)[0]) {
			return "", false
		}
		return strings.TrimSpace(rest), true
	}
	if head != word {
		return "", false
	}
	return strings.TrimSpace(text[len(word):]), true
}

func startsWithKeyword(text string) bool {
	if text == "" {
		return false
	}
	for _, kw := range keywords {
		if _, ok := cutKeyword(text, kw.word); ok {
			return true
		}
	}
	return false
}

func isBareCode(text string) bool {
	if quote.ValidTicker(text) {
		return true
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
