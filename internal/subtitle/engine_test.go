package subtitle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func displayTexts(e *Engine) []string {
	entries := e.Entries()
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}
	return texts
}

func TestPushEmptyInputIsNoOp(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("")
	e.Push("   ")
	e.Push("\n\t")
	require.Empty(t, e.Entries())
	require.Empty(t, e.RawLog())
}

func TestRawLogKeepsEveryFragment(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("你")
	e.Push("你好")
	e.Push("你好")
	require.Equal(t, []string{"你", "你好", "你好"}, e.RawLog())
	// Display deduplicated the growing partials down to one entry.
	require.Equal(t, []string{"你好"}, displayTexts(e))
}

func TestExactDuplicateIsDiscarded(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("He said hello to everyone")
	e.Push("He said hello to everyone")
	require.Equal(t, []string{"He said hello to everyone"}, displayTexts(e))
}

func TestGrowingPartialReplacesLastEntry(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("He")
	e.Push("He sa")
	e.Push("He said hello")
	require.Equal(t, []string{"He said hello"}, displayTexts(e))
}

func TestShorterSimilarFragmentIsDiscarded(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("He said hello")
	e.Push("He said")
	require.Equal(t, []string{"He said hello"}, displayTexts(e))
}

func TestLanguageSwitchFlushCollapsesShortSourceFragments(t *testing.T) {
	e := NewEngine(10, 100, false)
	for _, fragment := range []string{"你", "你好", "你好吗", "你好吗？How are you?"} {
		e.Push(fragment)
	}
	require.Equal(t, []string{"你好吗？How are you?"}, displayTexts(e))
}

func TestLanguageSwitchFlushPreservesCompleteSentences(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("今天天气怎么样我们出去走走吧") // complete source sentence, >= 8 clean chars
	e.Push("好")
	e.Push("Sounds good, let's go")
	texts := displayTexts(e)
	require.Len(t, texts, 2)
	require.Equal(t, "今天天气怎么样我们出去走走吧", texts[0])
	require.Equal(t, "Sounds good, let's go", texts[1])
}

func TestCompleteSentencePreservedAndUnrelatedAppended(t *testing.T) {
	e := NewEngine(10, 100, false)
	for _, fragment := range []string{"He", "He sa", "He said hello", "completely different sentence"} {
		e.Push(fragment)
	}
	require.Equal(t, []string{"He said hello", "completely different sentence"}, displayTexts(e))
}

func TestMultiFragmentMerge(t *testing.T) {
	e := NewEngine(10, 100, false)
	for _, fragment := range []string{"I am", " going", " home"} {
		e.Push(fragment)
	}
	require.Len(t, e.Entries(), 3)

	e.Push("I am going home")
	require.Equal(t, []string{"I am going home"}, displayTexts(e))
}

func TestMergeStopsAtCompleteSentence(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("The weather is lovely today")
	e.Push("I am")
	e.Push(" going")
	e.Push("I am going home")
	texts := displayTexts(e)
	require.Equal(t, "The weather is lovely today", texts[0])
	require.Equal(t, []string{"The weather is lovely today", "I am going home"}, texts)
}

func TestDisplayLogEvictsOldestPastCapacity(t *testing.T) {
	e := NewEngine(3, 100, false)
	sentences := []string{
		"alpha bravo charlie delta echo",
		"quick brown foxes jumped over lazy dogs",
		"weather forecasting remains difficult",
		"购买蔬菜需要更多零钱",
		"birds migrate south every winter",
	}
	for _, s := range sentences {
		e.Push(s)
	}
	require.Equal(t, sentences[2:], displayTexts(e))
}

func TestRawLogIsBounded(t *testing.T) {
	e := NewEngine(3, 5, false)
	for i := 0; i < 8; i++ {
		e.Push(fmt.Sprintf("fragment %d", i))
	}
	raw := e.RawLog()
	require.Len(t, raw, 5)
	require.Equal(t, "fragment 3", raw[0])
	require.Equal(t, "fragment 7", raw[4])
}

func TestRenderJoinsEntries(t *testing.T) {
	e := NewEngine(10, 100, false)
	e.Push("今天天气怎么样我们出去走走吧")
	e.Push("quick brown foxes jumped over lazy dogs")
	require.Equal(t, "今天天气怎么样我们出去走走吧\nquick brown foxes jumped over lazy dogs", e.Render())
}

func TestRenderWithTimestamps(t *testing.T) {
	e := NewEngine(10, 100, true)
	e.Push("a complete sentence with timestamps")
	require.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] a complete sentence with timestamps$`, e.Render())
}

func TestClassifyTargetLanguage(t *testing.T) {
	require.True(t, isTargetLanguage("How are you"))
	require.True(t, isTargetLanguage("你好吗？How are you?"))
	require.False(t, isTargetLanguage("你好吗"))
	require.False(t, isTargetLanguage("你好 ok"))
	require.False(t, isTargetLanguage("123 …"))
}

func TestCleanLengthIgnoresPunctuation(t *testing.T) {
	require.Equal(t, 0, cleanLength("？！。，  "))
	require.Equal(t, 3, cleanLength("你好吗？"))
	require.Equal(t, 11, cleanLength("He said hello!"))
}

func TestJaccardSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, jaccard("abc", "cba"), 1e-9)
	require.InDelta(t, 0.5, jaccard("abc", "bcd"), 1e-9)
	require.Zero(t, jaccard("", "abc"))
	require.True(t, similar("hello there", "hello there friend"))
	require.False(t, similar("hello", "world"))
}
