package recorder

// Column headers for the two per-session CSV files. Order matches
// sample.GazeSample.Values and sample.ImuSample.Values.
var (
	gazeColumns = []string{
		"DeviceTS", "LocalTS",
		"Gaze2D_X", "Gaze2D_Y",
		"Gaze3D_X", "Gaze3D_Y", "Gaze3D_Z",
		"EyeLeft_OriginX", "EyeLeft_OriginY", "EyeLeft_OriginZ",
		"EyeLeft_DirX", "EyeLeft_DirY", "EyeLeft_DirZ",
		"EyeLeft_PupilDiameter",
		"EyeRight_OriginX", "EyeRight_OriginY", "EyeRight_OriginZ",
		"EyeRight_DirX", "EyeRight_DirY", "EyeRight_DirZ",
		"EyeRight_PupilDiameter",
	}

	imuColumns = []string{
		"DeviceTS", "LocalTS",
		"Accel_X", "Accel_Y", "Accel_Z",
		"Gyro_X", "Gyro_Y", "Gyro_Z",
		"Mag_X", "Mag_Y", "Mag_Z",
	}
)
