package frames

// Header keywords read or written by the frame layer.
const (
	KeyExpTime       = "EXPTIME"
	KeyNumSamples    = "DET-NSMP"
	KeyExtTrigger    = "EXTTRIG"
	KeySynchro       = "SYNCHRO"
	KeyDetector      = "DETECTOR"
	KeyReadoutRows   = "PRD-RNG2"
	KeyRetarderAngle = "RET-ANG1"

	KeyDateObs  = "DATE-OBS"
	KeyUTStart  = "UT-STR"
	KeyUTEnd    = "UT-END"
	KeyUT       = "UT"
	KeyHSTStart = "HST-STR"
	KeyHSTEnd   = "HST-END"
	KeyHST      = "HST"
	KeyMJDStart = "MJD-STR"
	KeyMJDEnd   = "MJD-END"
	KeyMJD      = "MJD"
)
