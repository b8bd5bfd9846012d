package checkers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/lyrio-dev/judge/api"
)

// RunBuiltin grades userOutputPath against answerPath with one of the
// built-in modes and reports through a conventional checker message. The
// comparison is guarded so a panicking checker surfaces as a judgement
// failure instead of tearing down the worker.
func RunBuiltin(cfg *api.CheckerConfig, userOutputPath string, answerPath string) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{OK: false, Message: fmt.Sprintf("FAIL checker panicked: %v", r)}
		}
	}()

	var message string
	var err error
	switch cfg.Type {
	case api.CheckerIntegers:
		message, err = checkIntegers(userOutputPath, answerPath)
	case api.CheckerFloats:
		message, err = checkFloats(userOutputPath, answerPath, cfg.Precision)
	case api.CheckerLines:
		message, err = checkLines(userOutputPath, answerPath, cfg.CaseSensitive)
	case api.CheckerBinary:
		message, err = checkBinary(userOutputPath, answerPath)
	default:
		return Outcome{OK: false, Message: fmt.Sprintf("FAIL unknown built-in checker type %q", cfg.Type)}
	}
	if err != nil {
		return Outcome{OK: false, Message: "FAIL " + err.Error()}
	}
	return ParseMessage(message)
}

func englishEnding(n int) string {
	if n%100 >= 11 && n%100 <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// compress shortens long tokens for messages the way testlib does.
func compress(s string) string {
	if len(s) <= 64 {
		return s
	}
	return s[:30] + "..." + s[len(s)-30:]
}

func tokenScanner(f *os.File) *bufio.Scanner {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)
	return sc
}

func checkIntegers(userOutputPath string, answerPath string) (string, error) {
	ouf, ans, closeAll, err := openPair(userOutputPath, answerPath)
	if err != nil {
		return "", err
	}
	defer closeAll()

	oufScan, ansScan := tokenScanner(ouf), tokenScanner(ans)

	n := 0
	var firstElems []string
	for {
		ansOK, oufOK := ansScan.Scan(), oufScan.Scan()
		if !ansOK || !oufOK {
			extra := 0
			switch {
			case ansOK:
				for ok := true; ok; ok = ansScan.Scan() {
					extra++
				}
				return fmt.Sprintf(
					"wrong answer Output is shorter than answer - expected %d elements but found %d elements",
					n+extra, n), nil
			case oufOK:
				for ok := true; ok; ok = oufScan.Scan() {
					extra++
				}
				return fmt.Sprintf(
					"wrong answer Output is longer than answer - expected %d elements but found %d elements",
					n, n+extra), nil
			}
			break
		}
		n++

		j, err := strconv.ParseInt(ansScan.Text(), 10, 64)
		if err != nil {
			return "", fmt.Errorf("answer token %q is not an integer", compress(ansScan.Text()))
		}
		p, perr := strconv.ParseInt(oufScan.Text(), 10, 64)
		if perr != nil {
			return fmt.Sprintf("wrong output format Expected integer, found '%s'",
				compress(oufScan.Text())), nil
		}
		if j != p {
			return fmt.Sprintf("wrong answer %d%s number differ - expected: '%d', found: '%d'",
				n, englishEnding(n), j, p), nil
		}
		if n <= 5 {
			firstElems = append(firstElems, strconv.FormatInt(j, 10))
		}
	}

	if n <= 5 {
		return fmt.Sprintf("ok %d number(s): \"%s\"", n, compress(strings.Join(firstElems, " "))), nil
	}
	return fmt.Sprintf("ok %d numbers", n), nil
}

func checkFloats(userOutputPath string, answerPath string, precision int) (string, error) {
	ouf, ans, closeAll, err := openPair(userOutputPath, answerPath)
	if err != nil {
		return "", err
	}
	defer closeAll()

	eps := math.Pow(10, -float64(precision))
	oufScan, ansScan := tokenScanner(ouf), tokenScanner(ans)

	n := 0
	for {
		ansOK, oufOK := ansScan.Scan(), oufScan.Scan()
		if !ansOK || !oufOK {
			extra := 0
			switch {
			case ansOK:
				for ok := true; ok; ok = ansScan.Scan() {
					extra++
				}
				return fmt.Sprintf(
					"wrong answer Output is shorter than answer - expected %d elements but found %d elements",
					n+extra, n), nil
			case oufOK:
				for ok := true; ok; ok = oufScan.Scan() {
					extra++
				}
				return fmt.Sprintf(
					"wrong answer Output is longer than answer - expected %d elements but found %d elements",
					n, n+extra), nil
			}
			break
		}
		n++

		j, err := strconv.ParseFloat(ansScan.Text(), 64)
		if err != nil {
			return "", fmt.Errorf("answer token %q is not a number", compress(ansScan.Text()))
		}
		p, perr := strconv.ParseFloat(oufScan.Text(), 64)
		if perr != nil {
			return fmt.Sprintf("wrong output format Expected float, found '%s'",
				compress(oufScan.Text())), nil
		}
		if !floatsEqual(j, p, eps) {
			return fmt.Sprintf(
				"wrong answer %d%s number differ - expected: '%.10f', found: '%.10f', error = '%.10f'",
				n, englishEnding(n), j, p, floatDelta(j, p)), nil
		}
	}

	return fmt.Sprintf("ok %d numbers", n), nil
}

// floatsEqual accepts iff the absolute or relative error is within eps.
func floatsEqual(expected, result, eps float64) bool {
	diff := math.Abs(expected - result)
	if diff <= eps {
		return true
	}
	return diff <= eps*math.Max(math.Abs(expected), math.Abs(result))
}

func floatDelta(expected, result float64) float64 {
	abs := math.Abs(expected - result)
	if expected != 0 {
		return math.Min(abs, math.Abs(abs/expected))
	}
	return abs
}

func checkLines(userOutputPath string, answerPath string, caseSensitive bool) (string, error) {
	oufData, err := os.ReadFile(userOutputPath)
	if err != nil {
		return "", err
	}
	ansData, err := os.ReadFile(answerPath)
	if err != nil {
		return "", err
	}

	oufLines := splitTrimmedLines(string(oufData))
	ansLines := splitTrimmedLines(string(ansData))
	ansCount, oufCount := nonTrailingCount(ansLines), nonTrailingCount(oufLines)

	var lastAnsLine string
	n := 0
	for n < ansCount && n < oufCount {
		j, p := ansLines[n], oufLines[n]
		if j != "" {
			lastAnsLine = j
		}
		n++

		equal := j == p
		if !caseSensitive {
			equal = strings.EqualFold(j, p)
		}
		if !equal {
			return fmt.Sprintf("wrong answer %d%s line differ - expected: '%s', found: '%s'",
				n, englishEnding(n), compress(j), compress(p)), nil
		}
	}

	if ansCount > oufCount {
		return fmt.Sprintf("wrong answer Output is shorter than answer - expected %d lines but found %d lines",
			ansCount, oufCount), nil
	}
	if oufCount > ansCount {
		return fmt.Sprintf("wrong answer Output is longer than answer - expected %d lines but found %d lines",
			ansCount, oufCount), nil
	}

	if ansCount == 1 {
		return fmt.Sprintf("ok single line: '%s'", compress(lastAnsLine)), nil
	}
	return fmt.Sprintf("ok %d lines", n), nil
}

// splitTrimmedLines cuts the text into lines with trailing whitespace
// stripped from each; trailing empty lines stay in the slice so the caller
// can count them.
func splitTrimmedLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \f\t\r\v\n")
	}
	return lines
}

func nonTrailingCount(lines []string) int {
	n := len(lines)
	for n > 0 && lines[n-1] == "" {
		n--
	}
	return n
}

func checkBinary(userOutputPath string, answerPath string) (string, error) {
	ouf, ans, closeAll, err := openPair(userOutputPath, answerPath)
	if err != nil {
		return "", err
	}
	defer closeAll()

	oufInfo, err := ouf.Stat()
	if err != nil {
		return "", err
	}
	ansInfo, err := ans.Stat()
	if err != nil {
		return "", err
	}

	lenOut, lenAns := oufInfo.Size(), ansInfo.Size()
	if lenAns > lenOut {
		return fmt.Sprintf("wrong answer Output is shorter than answer - expected %d bytes but found %d bytes",
			lenAns, lenOut), nil
	}
	if lenOut > lenAns {
		return fmt.Sprintf("wrong answer Output is longer than answer - expected %d bytes but found %d bytes",
			lenAns, lenOut), nil
	}

	const bufferSize = 2 * 1024 * 1024
	bufOut := make([]byte, bufferSize)
	bufAns := make([]byte, bufferSize)
	var current int64
	for {
		sout, oerr := io.ReadFull(ouf, bufOut)
		sans, aerr := io.ReadFull(ans, bufAns)
		if sout != sans {
			return "", fmt.Errorf("read %d bytes from output but read %d bytes from answer", sout, sans)
		}
		if i := firstMismatch(bufOut[:sout], bufAns[:sans]); i >= 0 {
			pos := current + int64(i) + 1
			return fmt.Sprintf("wrong answer %d%s byte differ - expected: '%#04x', found: '%#04x'",
				pos, englishEnding(int(pos)), bufAns[i], bufOut[i]), nil
		}
		current += int64(sout)
		if oerr == io.EOF || oerr == io.ErrUnexpectedEOF || aerr == io.EOF || aerr == io.ErrUnexpectedEOF {
			break
		}
		if oerr != nil {
			return "", oerr
		}
		if aerr != nil {
			return "", aerr
		}
	}

	return fmt.Sprintf("ok %d byte(s)", lenAns), nil
}

func firstMismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

func openPair(userOutputPath string, answerPath string) (ouf, ans *os.File, closeAll func(), err error) {
	ouf, err = os.Open(userOutputPath)
	if err != nil {
		return nil, nil, nil, err
	}
	ans, err = os.Open(answerPath)
	if err != nil {
		ouf.Close()
		return nil, nil, nil, err
	}
	return ouf, ans, func() {
		ouf.Close()
		ans.Close()
	}, nil
}
