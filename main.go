// examguard — exam proctoring agent
//
// A single binary that runs on the examinee's machine, streams webcam
// frames and audio levels to the AI detection service, aggregates
// violations, and exports the evidence trail when the exam ends.
//
// Usage:
//
//	examguard monitor --exam EX101 --student S42   # proctor a sitting
//	examguard envcheck                             # pre-exam setup check
//	examguard import --file paper.yaml --attempt 7 # load questions/answers
//	examguard report --attempt 7 --pdf out.pdf     # regenerate exports
package main

import "github.com/examguard/examguard/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
